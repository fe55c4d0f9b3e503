package compiler

import (
	"fmt"
	"strings"

	"github.com/jeeves-ci/pipeline-core/compiler/expr"
)

// deferredToken records a hashFiles() call whose evaluation is committed to
// happen at step start (§4.1 step 4, step 7).
type deferredToken struct {
	Glob string
}

// interpolateResult is the outcome of resolving every ${{ }} token in a
// string.
type interpolateResult struct {
	Value     string
	Deferred  []deferredToken
	SecretRef string // name of the last secrets.NAME reference found in the string, if any
}

// interpolate resolves every ${{ expr }} token in s against env. Unresolved
// identifiers surface as *expr.UnboundIdentifierError.
func interpolate(s string, env *expr.Env) (interpolateResult, error) {
	var out strings.Builder
	var result interpolateResult
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "${{")
		if start < 0 {
			out.WriteString(s[i:])
			break
		}
		out.WriteString(s[i : i+start])
		tokenStart := i + start + 3
		end := strings.Index(s[tokenStart:], "}}")
		if end < 0 {
			return interpolateResult{}, fmt.Errorf("unterminated ${{ token in %q", s)
		}
		exprSrc := strings.TrimSpace(s[tokenStart : tokenStart+end])
		v, err := expr.Eval(exprSrc, env)
		if err != nil {
			return interpolateResult{}, err
		}
		switch val := v.(type) {
		case string:
			out.WriteString(val)
		case float64:
			fmt.Fprintf(&out, "%g", val)
		case bool:
			fmt.Fprintf(&out, "%t", val)
		case expr.SecretRef:
			result.SecretRef = val.Name
			out.WriteString("${{ secrets." + val.Name + " }}")
		case expr.HashFilesCall:
			result.Deferred = append(result.Deferred, deferredToken{Glob: val.Glob})
			out.WriteString("${{ hashFiles('" + val.Glob + "') }}")
		default:
			fmt.Fprintf(&out, "%v", val)
		}
		i = tokenStart + end + 2
	}
	result.Value = out.String()
	return result, nil
}
