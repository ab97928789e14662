package main

import "github.com/JakeFAU/ota-answers-crawler/cmd"

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
