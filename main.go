package main

import "github.com/liamnaddell/indexfs/cmd"

func main() {
	cmd.Execute()
}
