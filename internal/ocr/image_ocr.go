package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/docscan/constants"
)

const ImageConfidenceThreshold = 0.6

func (e *Extractor) extractImage(ctx context.Context, path string) (ExtractionResult, error) {
	var warns []string
	if e.cfg.Preprocess {
		if pp, cleanup, perr := e.preprocessImage(path); perr == nil {
			defer cleanup()
			path = pp
		} else {
			// keep going with the original image
			warns = append(warns, fmt.Sprintf("preprocess: %v", perr))
		}
	}

	txt, w, err := e.tesseractOCR(ctx, path)
	warns = append(warns, w...)
	if err != nil {
		return ExtractionResult{SourceType: constants.IMAGE, Warnings: warns}, err
	}
	txt = Normalize(txt)

	// blend: a measured word confidence outranks the text-shape guess
	conf := heuristicConfidence(txt)
	if e.cfg.EnableTSVConfidence {
		tsvConf, w, terr := e.tesseractTSVConfidence(ctx, path)
		warns = append(warns, w...)
		switch {
		case terr != nil:
			warns = append(warns, terr.Error())
		case tsvConf > 0:
			conf = 0.7*tsvConf + 0.3*conf
		}
	}
	if conf > 1 {
		conf = 1
	}

	return ExtractionResult{
		Text:       txt,
		Pages:      1,
		SourceType: constants.IMAGE,
		Method:     "image-ocr",
		Language:   e.cfg.TesseractLang,
		Warnings:   warns,
		Confidence: conf,
	}, nil
}

// tessArgs builds the tesseract invocation for path. The tsv form asks for
// word-level rows instead of plain text.
func (e *Extractor) tessArgs(path string, tsv bool) []string {
	args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	if tsv {
		args = append(args, "tsv")
	}
	return args
}

func (e *Extractor) tesseractOCR(ctx context.Context, path string) (string, []string, error) {
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, e.logger, e.tessArgs(path, false)...)
	if err != nil {
		return "", []string{string(errb)}, fmt.Errorf("tesseract: %w", err)
	}
	// strip the ____ / ---- ruler lines tesseract invents for table borders
	return reBoxNoise.ReplaceAllString(string(out), ""), nil, nil
}

// tesseractTSVConfidence reruns recognition in TSV mode and averages the
// per-word conf column, scaled to 0..1. Rows without a confidence (-1 marks
// layout rows) are skipped; no words at all reports 0.
func (e *Extractor) tesseractTSVConfidence(ctx context.Context, path string) (float32, []string, error) {
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, e.logger, e.tessArgs(path, true)...)
	if err != nil {
		return 0, []string{string(errb)}, fmt.Errorf("tesseract tsv: %w", err)
	}

	var sum float64
	var words int
	rows := strings.Split(string(out), "\n")
	for _, row := range rows[1:] { // rows[0] is the header
		cols := strings.Split(row, "\t")
		if len(cols) < 12 {
			continue
		}
		confStr := cols[len(cols)-1]
		if confStr == "" || confStr == "-1" {
			continue
		}
		if v, perr := strconv.ParseFloat(confStr, 64); perr == nil {
			sum += v
			words++
		}
	}
	if words == 0 {
		return 0, nil, nil
	}
	return float32(sum / float64(words) / 100), nil, nil
}
