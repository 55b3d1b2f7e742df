package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/joseph-ayodele/docscan/internal/common"
)

// HashFile streams path through SHA-256 and returns the hex digest with the
// byte count. Unreadable files surface as ErrHashing so callers fail fast
// instead of queueing work that cannot run.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("%w: open %s: %v", common.ErrHashing, path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("%w: read %s: %v", common.ErrHashing, path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
