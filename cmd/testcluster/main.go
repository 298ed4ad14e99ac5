package main

import (
	"github.com/G-Research/testcluster/cmd/testcluster/cmd"
	"github.com/G-Research/testcluster/internal/common"
)

func main() {
	common.ConfigureLogging()
	cmd.Execute()
}
