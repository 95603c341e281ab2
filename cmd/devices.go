package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clglinterop/internal/cl"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List OpenCL platforms and devices",
	Long: `Lists every OpenCL platform and device with its type and whether it can share
objects with OpenGL (cl_khr_gl_sharing) and synchronize implicitly (cl_khr_gl_event).
Indices match the ones accepted by --platform and --device.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		driver, err := cl.NewOpenCLDriver()
		if err != nil {
			return err
		}
		return listDevices(cmd.OutOrStdout(), driver)
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func listDevices(out io.Writer, driver cl.Driver) error {
	sel := &cl.Selector{Driver: driver, Out: io.Discard}
	listings, err := sel.ListAll()
	if err != nil {
		return err
	}
	if len(listings) == 0 {
		fmt.Fprintln(out, "No OpenCL platforms found.")
		return nil
	}

	for i, l := range listings {
		fmt.Fprintf(out, "[%d] %s\n", i, l.Platform.Name)
		if len(l.Devices) == 0 {
			fmt.Fprintln(out, "    (no devices)")
			continue
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "    #\tDEVICE\tTYPE\tGL SHARING\tGL EVENT")
		for j, d := range l.Devices {
			fmt.Fprintf(w, "    %d\t%s\t%s\t%s\t%s\n", j, d.Name, d.Type, yesNo(d.SupportsGLSharing()), yesNo(d.SupportsGLEvent()))
		}
		w.Flush()
	}
	return nil
}
