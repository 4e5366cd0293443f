package main

import "github.com/nextlevelbuilder/replyengine/cmd"

func main() {
	cmd.Execute()
}
