// Command domain-lint runs static analysis on Go code that defines
// planning domains.
//
// Usage:
//
//	domain-lint ./...
//
// See pkg/domainlint for the list of checks.
package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"github.com/example/hybridplanner/pkg/domainlint"
)

func main() {
	singlechecker.Main(domainlint.Analyzer)
}
