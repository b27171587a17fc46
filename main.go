package main

import "github.com/nextlevelbuilder/didmediator/cmd"

func main() {
	cmd.Execute()
}
