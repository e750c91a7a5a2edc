// Package demangle turns the raw symbol names reported by an instrumentation
// host into the base identifier shown in call traces.
//
// Decorations handled:
//   - Itanium C++ (_Z...) and Rust (_R..., legacy _ZN...17h<hash>E), parameters,
//     template arguments and clone suffixes dropped
//   - MSVC C++ (?name@scope@@...), reduced to scope::name
//   - x86 calling conventions: _name@N (stdcall), @name@N (fastcall), name@@N (vectorcall)
//   - ELF symbol versions and PLT stubs: name@GLIBC_2.2.5, name@@VERS, name@plt
//
// Anything that can't be undecorated is returned unchanged.
package demangle

import (
	"strings"

	"github.com/ianlancetaylor/demangle"
)

var demangleOptions = []demangle.Option{
	demangle.NoParams,
	demangle.NoTemplateParams,
	demangle.NoClones,
}

// Undecorate returns the base identifier of raw, or raw itself when it is not
// decorated or the decoration is malformed.
func Undecorate(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return raw
	}
	if strings.HasPrefix(name, "?") {
		if s, ok := undecorateMSVC(name); ok {
			return s
		}
		return raw
	}

	name = stripCallingConvention(name)
	if isMangled(name) {
		s, err := demangle.ToString(name, demangleOptions...)
		if err == nil && s != "" {
			return s
		}
		// Mach-O adds an extra leading underscore.
		if strings.HasPrefix(name, "__Z") {
			if s, err := demangle.ToString(name[1:], demangleOptions...); err == nil && s != "" {
				return s
			}
		}
		return name
	}
	return name
}

const itaniumPrefix = "_Z"

func isMangled(name string) bool {
	return strings.HasPrefix(name, itaniumPrefix) ||
		strings.HasPrefix(name, "__Z") ||
		strings.HasPrefix(name, "_R")
}

// stripCallingConvention removes x86 calling convention decorations, ELF
// version suffixes and PLT markers.
func stripCallingConvention(name string) string {
	fastcall := false
	if strings.HasPrefix(name, "@") {
		fastcall = true
		name = name[1:]
	}
	idx := strings.IndexByte(name, '@')
	if idx <= 0 {
		if fastcall {
			return "@" + name
		}
		return name
	}
	base, suffix := name[:idx], strings.TrimLeft(name[idx:], "@")
	if isDigits(suffix) {
		// _name@N is stdcall. Vectorcall (name@@N) and fastcall keep the name as is.
		if !fastcall && !strings.HasPrefix(name[idx:], "@@") && strings.HasPrefix(base, "_") && len(base) > 1 {
			return base[1:]
		}
		return base
	}
	if fastcall {
		return "@" + name
	}
	return base
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// undecorateMSVC extracts the qualified name of a Microsoft C++ decorated
// symbol. Only plain names, constructors and destructors are supported.
func undecorateMSVC(name string) (string, bool) {
	s := name[1:]
	special := ""
	if strings.HasPrefix(s, "?") {
		if len(s) < 2 {
			return "", false
		}
		switch s[1] {
		case '0', '1':
			special = s[1:2]
			s = s[2:]
		default:
			return "", false
		}
	}
	end := strings.Index(s, "@@")
	if end <= 0 {
		return "", false
	}
	parts := strings.Split(s[:end], "@")
	for _, p := range parts {
		if p == "" || !isIdentifier(p) {
			return "", false
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	qualified := strings.Join(parts, "::")
	class := parts[len(parts)-1]
	switch special {
	case "0":
		return qualified + "::" + class, true
	case "1":
		return qualified + "::~" + class, true
	}
	return qualified, true
}

func isIdentifier(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
