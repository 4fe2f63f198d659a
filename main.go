package main

import (
	"github.com/luma/emuconsole/cmd"
)

func main() {
	cmd.Execute()
}
