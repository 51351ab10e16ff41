package latex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterLogKeepsErrorBlocks(t *testing.T) {
	raw := []byte(`This is pdfTeX, Version 3.141592653
entering extended mode
! Undefined control sequence.
l.5 \badmacro
     {oops}

Here is how much of TeX's memory you used.
Output written on main.pdf (1 page).
`)

	filtered := FilterLog(raw)

	assert.Contains(t, filtered, "! Undefined control sequence.")
	assert.Contains(t, filtered, `l.5 \badmacro`)
	assert.Contains(t, filtered, "{oops}")
	assert.NotContains(t, filtered, "entering extended mode")
	assert.NotContains(t, filtered, "memory you used")
}

func TestFilterLogKeepsWarningsAndBadBoxes(t *testing.T) {
	raw := []byte(`LaTeX2e <2023-11-01>
LaTeX Warning: Reference 'fig:one' on page 1 undefined.
Package hyperref Warning: Token not allowed in a PDF string.
Overfull \hbox (12.3pt too wide) in paragraph at lines 10--12
Underfull \vbox (badness 10000) detected at line 40
Document Class: article
`)

	filtered := FilterLog(raw)

	assert.Contains(t, filtered, "LaTeX Warning: Reference")
	assert.Contains(t, filtered, "Package hyperref Warning")
	assert.Contains(t, filtered, `Overfull \hbox`)
	assert.Contains(t, filtered, `Underfull \vbox`)
	assert.NotContains(t, filtered, "Document Class")
}

func TestFilterLogStripsEscapeSequences(t *testing.T) {
	raw := []byte("\x1b[31m! Emergency stop.\x1b[0m\n")

	filtered := FilterLog(raw)

	assert.Equal(t, "! Emergency stop.\n", filtered)
}

func TestFilterLogFallsBackToRawContent(t *testing.T) {
	raw := []byte("latexmk: No such file or directory\nexit status 2\n")

	filtered := FilterLog(raw)

	assert.Contains(t, filtered, "latexmk: No such file or directory")
	assert.Contains(t, filtered, "exit status 2")
}

func TestFilterLogEmptyInput(t *testing.T) {
	assert.Empty(t, FilterLog(nil))
	assert.Empty(t, FilterLog([]byte("")))
}
