package main

import "github.com/blazeload/blaze/cmd"

func main() {
	cmd.Execute()
}
