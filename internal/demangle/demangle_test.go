package demangle

import (
	"testing"

	"github.com/getsentry/calltracer/internal/testutil"
)

func TestUndecorate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		output string
	}{
		{name: "plain C symbol", input: "main", output: "main"},
		{name: "leading underscore without decoration", input: "_start", output: "_start"},
		{name: "empty", input: "", output: ""},
		{name: "itanium free function", input: "_Z3foov", output: "foo"},
		{name: "itanium nested name", input: "_ZN3foo3barEi", output: "foo::bar"},
		{name: "itanium template", input: "_Z3maxIiET_S0_S0_", output: "max"},
		{name: "itanium macho underscore", input: "__ZN3foo3barEv", output: "foo::bar"},
		{name: "itanium through plt", input: "_ZN3foo3barEv@plt", output: "foo::bar"},
		{name: "malformed itanium", input: "_Zfoo", output: "_Zfoo"},
		{name: "stdcall", input: "_foo@12", output: "foo"},
		{name: "fastcall", input: "@foo@8", output: "foo"},
		{name: "vectorcall", input: "foo@@16", output: "foo"},
		{name: "elf version", input: "memcpy@GLIBC_2.14", output: "memcpy"},
		{name: "elf default version", input: "malloc@@GLIBC_2.2.5", output: "malloc"},
		{name: "plt stub", input: "puts@plt", output: "puts"},
		{name: "msvc method", input: "?bar@Foo@@QAEXH@Z", output: "Foo::bar"},
		{name: "msvc namespaced function", input: "?run@detail@app@@YAHXZ", output: "app::detail::run"},
		{name: "msvc constructor", input: "??0Foo@@QAE@XZ", output: "Foo::Foo"},
		{name: "msvc destructor", input: "??1Foo@ns@@QAE@XZ", output: "ns::Foo::~Foo"},
		{name: "msvc operator falls back to raw", input: "??2@YAPAXI@Z", output: "??2@YAPAXI@Z"},
		{name: "msvc truncated falls back to raw", input: "?broken", output: "?broken"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if diff := testutil.Diff(Undecorate(test.input), test.output); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
		})
	}
}
