package main

import "github.com/nextlevelbuilder/golaw/cmd"

func main() {
	cmd.Execute()
}
