package envfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rzbill/lambdeploy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadGuideExample(t *testing.T) {
	path := writeEnv(t, `# database
DB_HOST=db.example.com
DB_USERNAME=u

DB_PASSWORD=p=with=equals
DB_NAME=d
STRIPE_PRICE_ID="price_123"
`)

	cfg, err := Load(path, "DB_HOST", "DB_USERNAME", "DB_PASSWORD", "DB_NAME")
	require.NoError(t, err)

	assert.Equal(t, []string{"DB_HOST", "DB_USERNAME", "DB_PASSWORD", "DB_NAME", "STRIPE_PRICE_ID"}, cfg.Keys())
	v, _ := cfg.Get("DB_PASSWORD")
	assert.Equal(t, "p=with=equals", v)
	// No quoting rules: quotes are part of the value.
	v, _ = cfg.Get("STRIPE_PRICE_ID")
	assert.Equal(t, `"price_123"`, v)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	require.Error(t, err)
	assert.Equal(t, types.KindConfigNotFound, types.KindOf(err))
}

func TestLoadMissingRequiredKeys(t *testing.T) {
	path := writeEnv(t, "DB_HOST=h\nDB_PASSWORD=\n")

	_, err := Load(path, "DB_HOST", "DB_PASSWORD", "DB_NAME")
	require.Error(t, err)
	assert.Equal(t, types.KindConfigIncomplete, types.KindOf(err))
	assert.Contains(t, err.Error(), "DB_PASSWORD, DB_NAME")
}

func TestParseRejectsMalformedLines(t *testing.T) {
	_, err := Parse(strings.NewReader("A=1\nJUSTAKEY\n"))
	assert.ErrorContains(t, err, "line 2")

	_, err = Parse(strings.NewReader("=value\n"))
	assert.ErrorContains(t, err, "empty key")
}

func TestParseHandlesCRLFAndIndentedComments(t *testing.T) {
	cfg, err := Parse(strings.NewReader("A=1\r\n   # note\r\n B =2 \r\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, cfg.Keys())
	v, _ := cfg.Get("B")
	assert.Equal(t, "2 ", v)
}

func TestParseStripsByteOrderMark(t *testing.T) {
	path := writeEnv(t, "\ufeffDB_HOST=db.internal\r\nDB_NAME=shop\r\n")

	cfg, err := Load(path, "DB_HOST", "DB_NAME")
	require.NoError(t, err)
	assert.Equal(t, []string{"DB_HOST", "DB_NAME"}, cfg.Keys())
	v, _ := cfg.Get("DB_HOST")
	assert.Equal(t, "db.internal", v)
}

func TestExists(t *testing.T) {
	assert.NoError(t, Exists(writeEnv(t, "A=1\n")))
	assert.Equal(t, types.KindConfigNotFound, types.KindOf(Exists(filepath.Join(t.TempDir(), "x"))))
	assert.Equal(t, types.KindConfigNotFound, types.KindOf(Exists(t.TempDir())))
}

// For any well-formed file the loader yields exactly the declared keys, each
// mapped to the text after the first '='.
func TestParse_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	keyGen := gen.Identifier().Map(strings.ToUpper)
	valueGen := gen.AnyString().Map(func(s string) string {
		return strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' {
				return -1
			}
			return r
		}, s)
	})

	properties.Property("values are the text after the first '='", prop.ForAll(
		func(keys []string, values []string) bool {
			n := len(keys)
			if len(values) < n {
				n = len(values)
			}
			want := map[string]string{}
			var order []string
			var b strings.Builder
			b.WriteString("# generated\n\n")
			for i := 0; i < n; i++ {
				if _, seen := want[keys[i]]; !seen {
					order = append(order, keys[i])
				}
				want[keys[i]] = values[i]
				b.WriteString(keys[i] + "=" + values[i] + "\n")
			}

			cfg, err := Parse(strings.NewReader(b.String()))
			if err != nil {
				return false
			}
			if cfg.Len() != len(order) {
				return false
			}
			for i, k := range cfg.Keys() {
				if order[i] != k {
					return false
				}
				if v, _ := cfg.Get(k); v != want[k] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(keyGen),
		gen.SliceOf(valueGen),
	))

	properties.TestingRun(t)
}
