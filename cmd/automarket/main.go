// Package main is the entry point for the AutoMarket storefront.
package main

import (
	"os"

	"github.com/donaldgifford/automarket/cmd/automarket/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
