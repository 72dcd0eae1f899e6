package main

import "github.com/frahmantamala/capgate/cmd"

func main() {
	cmd.Execute()
}
