package sandbox

import (
	"io"
	"net/http"
	"time"

	"github.com/dop251/goja"
)

// fetchFunc is a minimal synchronous stand-in for the Fetch API: net is
// always granted (spec §4.2 step 2), so unlike readFile/writeFile/getEnv/run
// it needs no allow-list check. Streaming/request-option support is left out
// as out of scope for a sandboxed unit's capability surface.
func fetchFunc(rt *goja.Runtime) func(goja.FunctionCall) goja.Value {
	client := &http.Client{Timeout: 30 * time.Second}
	return func(call goja.FunctionCall) goja.Value {
		url := call.Argument(0).String()
		resp, err := client.Get(url)
		if err != nil {
			panic(rt.NewGoError(err))
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			panic(rt.NewGoError(err))
		}

		result := rt.NewObject()
		_ = result.Set("status", resp.StatusCode)
		_ = result.Set("ok", resp.StatusCode >= 200 && resp.StatusCode < 300)
		_ = result.Set("text", func(goja.FunctionCall) goja.Value { return rt.ToValue(string(body)) })
		_ = result.Set("json", func(goja.FunctionCall) goja.Value {
			parsed, err := parseJSON(rt, string(body))
			if err != nil {
				panic(rt.NewGoError(err))
			}
			return parsed
		})
		return result
	}
}

func parseJSON(rt *goja.Runtime, raw string) (goja.Value, error) {
	global := rt.GlobalObject()
	jsonObj := global.Get("JSON")
	parseFn, _ := goja.AssertFunction(jsonObj.ToObject(rt).Get("parse"))
	return parseFn(jsonObj, rt.ToValue(raw))
}
