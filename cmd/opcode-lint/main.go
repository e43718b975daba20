package main

import (
	"fmt"
	"log"

	core "alkanes/core"
)

func main() {
	names := core.HostFunctionNames
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			log.Fatalf("duplicate host function name %s", name)
		}
		seen[name] = struct{}{}
	}
	fmt.Printf("checked %d host functions, no collisions detected\n", len(names))
}
