// Package sniffer detects the layout of delimited catalog files: the
// delimiter, the header row below any preamble, a header fingerprint used as
// the format signature cache key, and the number dialect of amount columns.
package sniffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Header keywords seen in catalog exports, contract registers and royalty statements.
var headerKeywords = []string{
	"title", "track", "song", "work", "writer", "composer", "author", "publisher",
	"isrc", "iswc", "ipi", "share", "split", "%", "artist",
	"contract", "licensee", "licensor", "territory", "term", "start", "end",
	"royalt", "amount", "net", "units", "period", "income", "currency",
}

// maxHeaderSearch bounds how many preamble lines are inspected for a header.
const maxHeaderSearch = 20

// FileConfig holds the detected configuration for a CSV/TSV file
type FileConfig struct {
	Delimiter   rune       // The field delimiter (';', ',', '\t', '|')
	SkipLines   int        // Number of preamble lines before headers
	Headers     []string   // Detected header names
	Fingerprint string     // SHA256 hash of normalized headers
	SampleRows  [][]string // First few data rows for preview
}

// DetectOptions allows callers to override header row or delimiter detection.
type DetectOptions struct {
	// HeaderRowIndex is a 0-based index for the header row. Set to -1 to auto-detect.
	HeaderRowIndex int
	// Delimiter overrides the detected delimiter when non-zero.
	Delimiter rune
}

// NumberDialect is the inferred decimal convention of amount columns.
type NumberDialect struct {
	DecimalSeparator rune
	European         bool // true for 1.234,56
	Confidence       float64
}

var (
	ErrEmptyFile        = errors.New("file is empty")
	ErrNoHeadersFound   = errors.New("could not find a header row")
	ErrInvalidDelimiter = errors.New("could not detect a valid delimiter")
)

// Decode returns data as UTF-8 without a byte-order mark. Files that are not
// valid UTF-8 are assumed to be Windows-1252, the usual spreadsheet export.
func Decode(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF"))
	if utf8.Valid(data) {
		return data
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return data
	}
	return out
}

// DetectConfig analyzes a delimited file and returns its configuration
func DetectConfig(data []byte) (*FileConfig, error) {
	return DetectConfigWithOptions(data, nil)
}

// DetectConfigWithOptions analyzes a delimited file with optional overrides.
func DetectConfigWithOptions(data []byte, opts *DetectOptions) (*FileConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	lines := strings.Split(string(data), "\n")

	var (
		delimiter rune
		skipLines int
		err       error
	)
	if opts != nil && opts.HeaderRowIndex >= 0 {
		if opts.HeaderRowIndex >= len(lines) {
			return nil, ErrNoHeadersFound
		}
		skipLines = opts.HeaderRowIndex
		delimiter = opts.Delimiter
		if delimiter == 0 {
			delimiter, _ = detectDelimiter(cleanLine(lines[skipLines], skipLines == 0))
			if delimiter == 0 {
				return nil, ErrInvalidDelimiter
			}
		}
	} else {
		delimiter, skipLines, err = findHeaderRow(lines)
		if err != nil {
			return nil, err
		}
		if opts != nil && opts.Delimiter != 0 {
			delimiter = opts.Delimiter
		}
	}

	reader := csv.NewReader(strings.NewReader(cleanLine(lines[skipLines], skipLines == 0)))
	reader.Comma = delimiter
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		return nil, err
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	return &FileConfig{
		Delimiter:   delimiter,
		SkipLines:   skipLines,
		Headers:     headers,
		Fingerprint: Fingerprint(headers),
		SampleRows:  getSampleRows(data, delimiter, skipLines+1, 5),
	}, nil
}

// findHeaderRow locates the header row and its delimiter. Lines that contain
// catalog keywords win over lines that merely have many columns.
func findHeaderRow(lines []string) (rune, int, error) {
	fallbackIndex := -1
	fallbackDelimiter := rune(0)
	fallbackCount := 0

	keywordIndex := -1
	keywordDelimiter := rune(0)
	keywordCount := 0
	keywordScore := 0

	firstNonEmpty := -1

	for i, line := range lines {
		if i > maxHeaderSearch {
			break
		}

		line = cleanLine(line, i == 0)
		if line == "" {
			continue
		}
		if firstNonEmpty == -1 {
			firstNonEmpty = i
		}
		lineLower := strings.ToLower(line)

		delimiter, count := detectDelimiter(line)
		if count < 1 {
			continue
		}

		keywordMatches := 0
		for _, kw := range headerKeywords {
			if strings.Contains(lineLower, kw) {
				keywordMatches++
			}
		}

		if keywordMatches > 0 {
			score := count*10 + keywordMatches
			if keywordIndex == -1 || score > keywordScore {
				keywordCount = count
				keywordDelimiter = delimiter
				keywordIndex = i
				keywordScore = score
			}
		} else if count > fallbackCount {
			fallbackCount = count
			fallbackDelimiter = delimiter
			fallbackIndex = i
		}
	}

	if keywordIndex >= 0 && keywordCount >= 1 {
		return keywordDelimiter, keywordIndex, nil
	}
	if fallbackIndex >= 0 && fallbackCount >= 1 {
		return fallbackDelimiter, fallbackIndex, nil
	}
	// Single-column file.
	if firstNonEmpty >= 0 {
		return ',', firstNonEmpty, nil
	}
	return 0, 0, ErrNoHeadersFound
}

func cleanLine(line string, firstLine bool) string {
	line = strings.TrimRight(line, "\r")
	if firstLine {
		line = strings.TrimPrefix(line, "\uFEFF")
	}
	return strings.TrimSpace(line)
}

func detectDelimiter(line string) (rune, int) {
	bestDelimiter := rune(0)
	bestCount := 0
	for _, d := range []rune{';', '\t', ',', '|'} {
		count := strings.Count(line, string(d))
		if count > bestCount {
			bestCount = count
			bestDelimiter = d
		}
	}
	return bestDelimiter, bestCount
}

// Fingerprint creates a stable hash from header names, ignoring case,
// punctuation and empty headers.
func Fingerprint(headers []string) string {
	var normalized []string
	for _, h := range headers {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, h)
		if clean != "" {
			normalized = append(normalized, clean)
		}
	}

	hash := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(hash[:])
}

// getSampleRows returns the first N data rows after the header
func getSampleRows(data []byte, delimiter rune, startLine, maxRows int) [][]string {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var rows [][]string
	for lineNum := 0; ; lineNum++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if lineNum >= startLine {
			rows = append(rows, record)
			if len(rows) >= maxRows {
				break
			}
		}
	}
	return rows
}

// ProbeNumbers inspects amount samples and infers whether they use a comma
// as the decimal separator.
func ProbeNumbers(samples []string) NumberDialect {
	dialect := NumberDialect{DecimalSeparator: '.', Confidence: 0.5}

	european, us := 0, 0
	for _, s := range samples {
		switch hint := analyzeAmountFormat(s); {
		case hint > 0:
			european++
		case hint < 0:
			us++
		}
	}

	if european > us {
		dialect.DecimalSeparator = ','
		dialect.European = true
	}
	if total := european + us; total > 0 {
		winning := max(european, us)
		dialect.Confidence = float64(winning) / float64(total)
	}
	return dialect
}

// analyzeAmountFormat returns >0 for European, <0 for US, 0 for ambiguous
func analyzeAmountFormat(val string) int {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == ',' || r == '.' || r == '-' {
			return r
		}
		return -1
	}, val)
	cleaned = strings.TrimPrefix(cleaned, "-")
	if cleaned == "" {
		return 0
	}

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")

	switch {
	case hasComma && hasDot:
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			return 1
		}
		return -1
	case hasComma:
		if len(cleaned)-strings.LastIndex(cleaned, ",")-1 <= 2 {
			return 1
		}
		return 0
	case hasDot:
		if len(cleaned)-strings.LastIndex(cleaned, ".")-1 <= 2 {
			return -1
		}
		return 0
	}
	return 0
}

// FindHeaderIndex picks the header row among rows that are already split into
// cells, as read from a spreadsheet. It mirrors the delimited-file rules.
func FindHeaderIndex(rows [][]string) (int, error) {
	bestIndex, bestScore := -1, 0
	fallbackIndex, fallbackCount := -1, 0

	for i, row := range rows {
		if i > maxHeaderSearch {
			break
		}
		nonEmpty, keywordMatches := 0, 0
		for _, cell := range row {
			cell = strings.ToLower(strings.TrimSpace(cell))
			if cell == "" {
				continue
			}
			nonEmpty++
			for _, kw := range headerKeywords {
				if strings.Contains(cell, kw) {
					keywordMatches++
					break
				}
			}
		}
		if nonEmpty == 0 {
			continue
		}
		if keywordMatches > 0 {
			if score := nonEmpty*10 + keywordMatches; score > bestScore {
				bestIndex, bestScore = i, score
			}
		} else if nonEmpty > fallbackCount {
			fallbackIndex, fallbackCount = i, nonEmpty
		}
	}

	switch {
	case bestIndex >= 0:
		return bestIndex, nil
	case fallbackIndex >= 0:
		return fallbackIndex, nil
	}
	return 0, ErrNoHeadersFound
}
