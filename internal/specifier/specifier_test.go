package specifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimplePackageScript(t *testing.T) {
	p, err := Parse("../foo#build")
	require.NoError(t, err)
	assert.Equal(t, PackagePath, p.Package.Kind)
	assert.Equal(t, "../foo", p.Package.Segment.Text)
	assert.Equal(t, ScriptName, p.Script.Kind)
	assert.Equal(t, "build", p.Script.Segment.Text)
	assert.False(t, p.Inverted)
}

func TestParseLegacyColonForm(t *testing.T) {
	p, err := Parse("./foo:build")
	require.NoError(t, err)
	assert.Equal(t, PackagePath, p.Package.Kind)
	assert.Equal(t, "./foo", p.Package.Segment.Text)
	assert.Equal(t, "build", p.Script.Segment.Text)
}

func TestLegacyColonIgnoredWhenHashPresent(t *testing.T) {
	// Once a '#' is present, ':' is not a delimiter, so it stays part of
	// the script name.
	p, err := Parse("../foo#build:thing")
	require.NoError(t, err)
	assert.Equal(t, "build:thing", p.Script.Segment.Text)
}

func TestParseSpecials(t *testing.T) {
	p, err := Parse("<workspaces>#<this>")
	require.NoError(t, err)
	assert.Equal(t, PackageWorkspaces, p.Package.Kind)
	assert.Equal(t, ScriptThis, p.Script.Kind)
}

func TestParseDependenciesSpecial(t *testing.T) {
	p, err := Parse("<dependencies>#build")
	require.NoError(t, err)
	assert.Equal(t, PackageDependencies, p.Package.Kind)
	assert.Equal(t, "build", p.Script.Segment.Text)
}

func TestParseInversion(t *testing.T) {
	p, err := Parse("!pkg#x")
	require.NoError(t, err)
	assert.True(t, p.Inverted)
	assert.Equal(t, PackageNpm, p.Package.Kind)
	assert.Equal(t, "pkg", p.Package.Segment.Text)
	assert.Equal(t, "x", p.Script.Segment.Text)
}

func TestParseScriptOnly(t *testing.T) {
	p, err := Parse("build")
	require.NoError(t, err)
	assert.Equal(t, PackageThis, p.Package.Kind)
	assert.Equal(t, "build", p.Script.Segment.Text)
}

func TestParseEscapes(t *testing.T) {
	p, err := Parse(`../weird\#dir#build`)
	require.NoError(t, err)
	assert.Equal(t, "../weird#dir", p.Package.Segment.Text)
	assert.Equal(t, "build", p.Script.Segment.Text)
}

func TestParseTrailingEscapeIsError(t *testing.T) {
	_, err := Parse(`../foo#build\`)
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
}

func TestParseUnterminatedSpecialIsError(t *testing.T) {
	_, err := Parse("<workspaces#build")
	require.Error(t, err)
}

func TestParseUnknownSpecialIsError(t *testing.T) {
	_, err := Parse("<bogus>#build")
	require.Error(t, err)
}

func TestParseSpecialAsScriptRejectsNonThis(t *testing.T) {
	_, err := Parse("pkg#<workspaces>")
	require.Error(t, err)
}

func TestParseEmptyIsError(t *testing.T) {
	_, err := Parse("")
	require.Error(t, err)
}

func TestParseErrorRangesPointAtOffendingText(t *testing.T) {
	_, err := Parse("<bogus>#build")
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 0, pe.Start)
	assert.Equal(t, len("<bogus>"), pe.End)
}
