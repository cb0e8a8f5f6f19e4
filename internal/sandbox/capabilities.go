package sandbox

import (
	"os"
	"os/exec"
	"strings"

	"github.com/dop251/goja"

	"github.com/nanoedge/nanoedgert/internal/domain"
)

// attachCapabilities exposes host functions gated by the unit's declared
// permission set (spec §4.2 step 2): net is always granted implicitly via
// fetch; read/write/env/run are denied unless the target matches an entry
// in the corresponding permission list.
func attachCapabilities(rt *goja.Runtime, perms domain.Permissions) {
	_ = rt.Set("fetch", fetchFunc(rt))
	_ = rt.Set("readFile", readFileFunc(rt, perms.Read))
	_ = rt.Set("writeFile", writeFileFunc(rt, perms.Write))
	_ = rt.Set("getEnv", getEnvFunc(rt, perms.Env))
	_ = rt.Set("run", runFunc(rt, perms.Run))
}

// allowed reports whether target matches one of the allow-list entries by
// prefix, the same coarse URI/path matching spec §3 describes for
// permissions.{read,write,env,run}.
func allowed(list []string, target string) bool {
	for _, entry := range list {
		if entry == target || strings.HasPrefix(target, entry) {
			return true
		}
	}
	return false
}

func denied(rt *goja.Runtime, capability, target string) goja.Value {
	panic(rt.NewGoError(&capabilityError{capability: capability, target: target}))
}

type capabilityError struct {
	capability string
	target     string
}

func (e *capabilityError) Error() string {
	return "capability denied: " + e.capability + " " + e.target
}

func readFileFunc(rt *goja.Runtime, allow []string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		if !allowed(allow, path) {
			return denied(rt, "read", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return rt.ToValue(string(data))
	}
}

func writeFileFunc(rt *goja.Runtime, allow []string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		if !allowed(allow, path) {
			return denied(rt, "write", path)
		}
		content := call.Argument(1).String()
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			panic(rt.NewGoError(err))
		}
		return goja.Undefined()
	}
}

func getEnvFunc(rt *goja.Runtime, allow []string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if !allowed(allow, name) {
			return denied(rt, "env", name)
		}
		return rt.ToValue(os.Getenv(name))
	}
}

func runFunc(rt *goja.Runtime, allow []string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if !allowed(allow, name) {
			return denied(rt, "run", name)
		}
		args := make([]string, 0, len(call.Arguments)-1)
		for _, a := range call.Arguments[1:] {
			args = append(args, a.String())
		}
		out, err := exec.Command(name, args...).CombinedOutput()
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return rt.ToValue(string(out))
	}
}
