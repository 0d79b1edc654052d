package parsers

import (
	"testing"

	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoMod(t *testing.T) {
	content := `module github.com/acme/tool

go 1.22

require (
	github.com/BurntSushi/toml v1.3.2
	github.com/stretchr/testify v1.8.4
	golang.org/x/text v0.3.7 // indirect
)

replace github.com/BurntSushi/toml => github.com/BurntSushi/toml v1.4.0
`

	t.Run("with indirect", func(t *testing.T) {
		doc, err := (&GoModParser{IncludeIndirect: true}).Parse("go.mod", []byte(content))
		require.NoError(t, err)

		assert.Equal(t, "github.com/acme/tool", doc.RootID)
		require.Len(t, doc.Packages, 3)

		toml := pkgByID(t, doc, "github.com/BurntSushi/toml")
		assert.Equal(t, "v1.4.0", toml.Version, "replacement version wins")
		assert.Equal(t, "Go", toml.Ecosystem)
		assert.NotEmpty(t, toml.PackageRef)

		assert.Equal(t, "v0.3.7", pkgByID(t, doc, "golang.org/x/text").Version)
		assert.Equal(t, []string{
			"github.com/acme/tool>github.com/BurntSushi/toml",
			"github.com/acme/tool>github.com/stretchr/testify",
		}, edges(doc), "indirect requirements have no known parent")
	})

	t.Run("direct only", func(t *testing.T) {
		doc, err := (&GoModParser{}).Parse("go.mod", []byte(content))
		require.NoError(t, err)
		assert.Len(t, doc.Packages, 2)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := (&GoModParser{}).Parse("go.mod", []byte("module x\nrequire github.com/x/y\n"))
		assert.Error(t, err)
	})
}

func TestPackageLockV3(t *testing.T) {
	content := `{
	  "name": "web",
	  "lockfileVersion": 3,
	  "packages": {
	    "": {"name": "web", "dependencies": {"express": "^4.18.0"}, "devDependencies": {"jest": "^29.0.0"}},
	    "node_modules/express": {"version": "4.18.2", "dependencies": {"debug": "2.6.9", "qs": "6.11.0"}},
	    "node_modules/express/node_modules/debug": {"version": "2.6.9", "dependencies": {"ms": "2.0.0"}},
	    "node_modules/express/node_modules/ms": {"version": "2.0.0"},
	    "node_modules/debug": {"version": "4.3.4", "dev": true},
	    "node_modules/qs": {"version": "6.11.0"},
	    "node_modules/jest": {"version": "29.7.0", "dev": true, "dependencies": {"debug": "^4.3.1"}},
	    "packages/shared": {"version": "0.0.0"},
	    "node_modules/shared": {"link": true}
	  }
	}`

	doc, err := (&NodePackageLockParser{}).Parse("package-lock.json", []byte(content))
	require.NoError(t, err)

	assert.Equal(t, "manifest:package-lock.json", doc.RootID)
	assert.Len(t, doc.Packages, 7)

	nested := pkgByID(t, doc, "node_modules/express/node_modules/debug")
	assert.Equal(t, "debug", nested.Name)
	assert.Equal(t, "2.6.9", nested.Version)
	assert.Equal(t, "4.3.4", pkgByID(t, doc, "node_modules/debug").Version)

	got := edges(doc)
	assert.Contains(t, got, "manifest:package-lock.json>node_modules/express")
	assert.Contains(t, got, "manifest:package-lock.json>node_modules/jest")
	assert.Contains(t, got, "node_modules/express>node_modules/express/node_modules/debug", "nested copy shadows the hoisted one")
	assert.Contains(t, got, "node_modules/express>node_modules/qs", "falls back to the hoisted copy")
	assert.Contains(t, got, "node_modules/express/node_modules/debug>node_modules/express/node_modules/ms")
	assert.Contains(t, got, "node_modules/jest>node_modules/debug")
	assert.Len(t, got, 6)
}

func TestPackageLockV1(t *testing.T) {
	content := `{
	  "lockfileVersion": 1,
	  "dependencies": {
	    "express": {"version": "4.17.1", "requires": {"qs": "6.7.0"}},
	    "qs": {"version": "6.7.0"},
	    "lodash": {"version": "4.17.15"}
	  }
	}`

	doc, err := (&NodePackageLockParser{}).Parse("package-lock.json", []byte(content))
	require.NoError(t, err)

	assert.Len(t, doc.Packages, 3)
	assert.Equal(t, []string{
		"manifest:package-lock.json>express",
		"express>qs",
		"manifest:package-lock.json>lodash",
	}, edges(doc))
}

func TestPackageJSON(t *testing.T) {
	content := `{
	  "name": "web",
	  "dependencies": {"lodash": "^4.17.21", "@babel/core": "~7.22.0"},
	  "devDependencies": {"jest": ">=29.0.0", "lodash": "4.17.21"}
	}`

	doc, err := (&NodePackageJSONParser{}).Parse("package.json", []byte(content))
	require.NoError(t, err)

	require.Len(t, doc.Packages, 3, "a name listed twice is kept once")
	assert.Equal(t, "^4.17.21", pkgByID(t, doc, "lodash").Version, "ranges are kept as declared")
	assert.Equal(t, "npm", pkgByID(t, doc, "@babel/core").Ecosystem)
	assert.Equal(t, []string{
		"manifest:package.json>@babel/core",
		"manifest:package.json>lodash",
		"manifest:package.json>jest",
	}, edges(doc))
}

func TestRequirements(t *testing.T) {
	content := `# pinned
requests==2.31.0
Flask[async] >= 2.0  # web
-r base.txt
--index-url https://example.org/simple
urllib3
zope.interface~=6.0
python-dateutil>=2.8.2; python_version >= "3.8"
`

	doc, err := (&PythonRequirementsParser{}).Parse("requirements.txt", []byte(content))
	require.NoError(t, err)

	got := map[string]string{}
	for _, p := range doc.Packages {
		got[p.Name] = p.Version
		assert.Equal(t, models.EcosystemPyPI.String(), p.Ecosystem)
	}
	assert.Equal(t, map[string]string{
		"requests":        "==2.31.0",
		"Flask":           ">= 2.0",
		"urllib3":         "",
		"zope.interface":  "~=6.0",
		"python-dateutil": ">=2.8.2",
	}, got)
	assert.Len(t, edges(doc), 5)
}

func TestPyProject(t *testing.T) {
	content := `
[project]
name = "svc"
dependencies = ["fastapi>=0.100", "pydantic[email]==2.5.0"]

[project.optional-dependencies]
test = ["pytest>=7"]

[tool.poetry.dependencies]
python = "^3.11"
httpx = "^0.25"
uvicorn = { version = "0.24.0", extras = ["standard"] }
`

	doc, err := (&PythonPyProjectParser{}).Parse("pyproject.toml", []byte(content))
	require.NoError(t, err)

	assert.Equal(t, "svc", doc.RootID)
	got := map[string]string{}
	for _, p := range doc.Packages {
		got[p.Name] = p.Version
	}
	assert.Equal(t, map[string]string{
		"fastapi":  ">=0.100",
		"pydantic": "==2.5.0",
		"pytest":   ">=7",
		"httpx":    "^0.25",
		"uvicorn":  "0.24.0",
	}, got)
	assert.Contains(t, edges(doc), "svc>httpx")

	_, err = (&PythonPyProjectParser{}).Parse("pyproject.toml", []byte("[project"))
	assert.Error(t, err)
}
