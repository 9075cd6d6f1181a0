package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const modulePath = "splitflow"

type violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

// layerPolicy lists what a layer inside a context may import besides the
// standard library. Entries ending in "/" are relative to the context root.
type layerPolicy struct {
	allowed   []string
	forbidden []string
}

var policies = map[string]layerPolicy{
	"domain": {
		allowed:   []string{"/domain", "github.com/shopspring/decimal"},
		forbidden: []string{"/adapters/", "/application/", "/transport/"},
	},
	"ports": {
		allowed:   []string{"/domain", "/ports", modulePath + "/contracts"},
		forbidden: []string{"/adapters/", "/application/"},
	},
	"application": {
		allowed:   []string{"/application", "/domain", "/ports", modulePath + "/contracts"},
		forbidden: []string{"/adapters/", "/transport/"},
	},
	"transport": {
		allowed:   []string{"/transport"},
		forbidden: []string{"/adapters/", "/application/"},
	},
}

func main() {
	violations := collectViolations("contexts")
	if len(violations) == 0 {
		fmt.Println("boundary checks passed")
		return
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].File != violations[j].File {
			return violations[i].File < violations[j].File
		}
		if violations[i].Line != violations[j].Line {
			return violations[i].Line < violations[j].Line
		}
		return violations[i].Import < violations[j].Import
	})

	fmt.Println("boundary violations found:")
	for _, v := range violations {
		fmt.Printf("- %s:%d imports %q (%s)\n", v.File, v.Line, v.Import, v.Rule)
	}
	os.Exit(1)
}

func collectViolations(root string) []violation {
	var violations []violation

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		normalized := filepath.ToSlash(path)
		parts := strings.Split(normalized, "/")
		if len(parts) < 4 || parts[0] != "contexts" {
			return nil
		}

		contextRoot := fmt.Sprintf("%s/contexts/%s/%s", modulePath, parts[1], parts[2])
		violations = append(violations, validateFile(path, normalized, parts[3], contextRoot)...)
		return nil
	})

	return violations
}

func validateFile(path string, normalizedPath string, layer string, contextRoot string) []violation {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		return []violation{{File: normalizedPath, Line: 1, Rule: "file must parse"}}
	}

	var violations []violation
	for _, imp := range file.Imports {
		importPath := strings.Trim(imp.Path.Value, "\"")
		line := fset.Position(imp.Pos()).Line
		report := func(rule string) {
			violations = append(violations, violation{
				File:   normalizedPath,
				Line:   line,
				Import: importPath,
				Rule:   rule,
			})
		}

		if strings.HasPrefix(importPath, modulePath+"/contexts/") && !hasPrefix(importPath, contextRoot) {
			report("cross-context imports are forbidden")
		}

		policy, ok := policies[layer]
		if !ok {
			continue
		}
		if strings.HasPrefix(importPath, modulePath+"/internal/") {
			report(layer + " must not import runtime infrastructure")
		}
		for _, fragment := range policy.forbidden {
			if strings.HasPrefix(importPath, contextRoot) && strings.Contains(importPath, fragment) {
				report(fmt.Sprintf("%s must not import %s", layer, strings.Trim(fragment, "/")))
			}
		}
		if !isStdlib(importPath) && !isAllowed(importPath, contextRoot, policy.allowed) {
			report(layer + " import is outside explicit allowlist")
		}
	}
	return violations
}

func hasPrefix(path string, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func isAllowed(importPath string, contextRoot string, allowed []string) bool {
	for _, entry := range allowed {
		if strings.HasPrefix(entry, "/") {
			entry = contextRoot + entry
		}
		if hasPrefix(importPath, entry) {
			return true
		}
	}
	return false
}

func isStdlib(importPath string) bool {
	if hasPrefix(importPath, modulePath) {
		return false
	}
	first := importPath
	if idx := strings.Index(first, "/"); idx != -1 {
		first = first[:idx]
	}
	return !strings.Contains(first, ".")
}
