// The main package for the buildingbit-scraper executable.
package main

import (
	"github.com/JakeFAU/buildingbit-scraper/cmd"
)

func main() {
	cmd.Execute()
}
