package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-ci/pipeline-core/compiler/expr"
)

func TestInterpolate_PlainStringPassesThrough(t *testing.T) {
	res, err := interpolate("make build", &expr.Env{})
	require.NoError(t, err)
	assert.Equal(t, "make build", res.Value)
}

func TestInterpolate_SubstitutesIdentifier(t *testing.T) {
	env := &expr.Env{Identifiers: map[string]string{"branch": "main"}}
	res, err := interpolate("git checkout ${{ branch }}", env)
	require.NoError(t, err)
	assert.Equal(t, "git checkout main", res.Value)
}

func TestInterpolate_UnboundIdentifierSurfacesTypedError(t *testing.T) {
	_, err := interpolate("${{ nope }}", &expr.Env{})
	require.Error(t, err)
	_, ok := err.(*expr.UnboundIdentifierError)
	assert.True(t, ok)
}

func TestInterpolate_SecretReferenceIsPreservedLiterally(t *testing.T) {
	res, err := interpolate("${{ secrets.API_TOKEN }}", &expr.Env{})
	require.NoError(t, err)
	assert.Equal(t, "${{ secrets.API_TOKEN }}", res.Value)
	assert.Equal(t, "API_TOKEN", res.SecretRef)
}

func TestInterpolate_HashFilesIsDeferred(t *testing.T) {
	res, err := interpolate("${{ hashFiles('go.sum') }}", &expr.Env{})
	require.NoError(t, err)
	assert.Equal(t, "${{ hashFiles('go.sum') }}", res.Value)
	require.Len(t, res.Deferred, 1)
	assert.Equal(t, "go.sum", res.Deferred[0].Glob)
}

func TestInterpolate_UnterminatedTokenIsAnError(t *testing.T) {
	_, err := interpolate("${{ branch", &expr.Env{})
	assert.Error(t, err)
}
