package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/fs"
)

const samplePackageJSON = `{
	"name": "my-pkg",
	"scripts": {"build": "wireit"},
	"workspaces": ["packages/*"],
	"dependencies": {"left-pad": "^1.0.0"},
	"wireit": {
		"build": {
			"command": "tsc",
			"dependencies": ["../other#build"],
			"files": ["src/**/*.ts"],
			"output": ["lib/**"],
			"clean": "if-file-deleted",
			"env": {"NODE_ENV": true, "LEVEL": {"default": "info"}}
		},
		"serve": {
			"command": "node server.js",
			"service": {"readyWhen": {"lineMatches": "listening on"}}
		}
	}
}`

func TestReadManifest(t *testing.T) {
	dir := fs.NewDir(t, "manifest-test", fs.WithFile("package.json", samplePackageJSON))
	defer dir.Remove()

	r := NewReader()
	m, err := r.Read(dir.Path())
	require.NoError(t, err)

	assert.Equal(t, "my-pkg", m.Name)
	assert.True(t, m.DelegatesToWireit("build"))
	assert.Equal(t, []string{"packages/*"}, m.Workspaces)

	build := m.Wireit["build"]
	assert.Equal(t, "tsc", build.Command)
	assert.Equal(t, []string{"../other#build"}, build.Dependencies)
	require.NotNil(t, build.Files)
	assert.Equal(t, []string{"src/**/*.ts"}, *build.Files)
	require.NotNil(t, build.Clean)
	assert.True(t, build.Clean.IfFileDeleted)
	assert.True(t, build.Env["NODE_ENV"].External)
	require.NotNil(t, build.Env["LEVEL"].Default)
	assert.Equal(t, "info", *build.Env["LEVEL"].Default)

	serve := m.Wireit["serve"]
	require.NotNil(t, serve.Service)
	assert.True(t, serve.Service.Enabled)
	require.NotNil(t, serve.Service.LineMatches)
	assert.Equal(t, "listening on", *serve.Service.LineMatches)
}

func TestReadIsMemoized(t *testing.T) {
	dir := fs.NewDir(t, "manifest-memo-test", fs.WithFile("package.json", `{"name":"a"}`))
	defer dir.Remove()

	r := NewReader()
	m1, err := r.Read(dir.Path())
	require.NoError(t, err)
	m2, err := r.Read(dir.Path())
	require.NoError(t, err)
	assert.Same(t, m1, m2)
}

func TestReadMissingManifestIsError(t *testing.T) {
	dir := fs.NewDir(t, "manifest-missing-test")
	defer dir.Remove()

	r := NewReader()
	_, err := r.Read(dir.Path())
	require.Error(t, err)
}
