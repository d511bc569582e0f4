package report

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/phobologic/zppscan/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]|]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// EncodeTOON renders reports in TOON (Token-Oriented Object Notation)
// tabular form. Multiple formats of one function are joined with a space.
func EncodeTOON(reports []model.FileReport) string {
	if len(reports) == 0 {
		return ""
	}
	var parts []string

	var fileRows [][]string
	for i := range reports {
		r := &reports[i]
		fileRows = append(fileRows, []string{r.Path, fmt.Sprintf("%d", len(r.Functions))})
	}
	parts = append(parts, formatTabular("files", []string{"path", "functions"}, fileRows))

	var fnRows [][]string
	for i := range reports {
		r := &reports[i]
		for j := range r.Functions {
			fn := &r.Functions[j]
			fnRows = append(fnRows, []string{
				r.Path,
				fn.Name,
				fmt.Sprintf("%d", fn.Location.Line),
				strings.Join(fn.Formats, " "),
			})
		}
	}
	parts = append(parts, formatTabular("functions", []string{"file", "name", "line", "formats"}, fnRows))

	return strings.Join(parts, "\n") + "\n"
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	switch {
	case value == "":
		return `""`
	case value != strings.TrimSpace(value), strings.ContainsAny(value, "\n\r\t"):
		return quote(value)
	}
	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}
	if looksNumeric.MatchString(value) {
		return value
	}
	// '|' is TOON's alternate delimiter.
	if needsQuoting.MatchString(value) || strings.HasPrefix(value, "-") {
		return quote(value)
	}
	return value
}

func quote(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	return `"` + r.Replace(value) + `"`
}
