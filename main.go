package main

import "github.com/user/sploitprobe/cmd"

func main() {
	cmd.Execute()
}
