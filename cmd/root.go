package cmd

import (
	"github.com/spf13/cobra"
)

// Version 构建时通过 -ldflags "-X gischat/cmd.Version=..." 覆盖
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "gischat",
	Short:         "Real-time chat relay for GIS clients",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute main.main 调用一次
func Execute() error {
	return rootCmd.Execute()
}
