package main

import "github.com/nextlevelbuilder/telepoe/cmd"

func main() {
	cmd.Execute()
}
