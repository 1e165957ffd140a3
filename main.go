package main

import "github.com/iksnae/chief-of-staff/cmd"

func main() {
	cmd.Execute()
}
