package main

import "github.com/ValentinKolb/mcKV/cmd"

func main() {
	cmd.Execute()
}
