package main

import "github.com/haven-cms/eventcore/cmd"

func main() {
	cmd.Execute()
}
