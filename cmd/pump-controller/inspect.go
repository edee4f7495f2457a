package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/sweeney/pump-controller/internal/config"
	"github.com/sweeney/pump-controller/internal/fleet"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and print it with defaults applied",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover the drives on the bus and print their states",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		bus, fl, err := openFleet(cfg, log.Logger)
		if err != nil {
			return err
		}
		defer bus.Close()
		if err := fl.Poll(); err != nil {
			return err
		}
		printDrives(os.Stdout, fl)
		return nil
	},
}

var printStateCmd = &cobra.Command{
	Use:   "print-state",
	Short: "Print the station pressures once and exit",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		bus, fl, err := openFleet(cfg, log.Logger)
		if err != nil {
			return err
		}
		defer bus.Close()
		return printState(os.Stdout, fl)
	},
}

func printDrives(w io.Writer, fl *fleet.Manager) {
	devs := fl.Devices()
	if len(devs) == 0 {
		fmt.Fprintln(w, "no drives found")
		return
	}
	for _, d := range devs {
		fmt.Fprintf(w, "drive %d: %s (status %#06x)\n", d.ID, d.State(), uint16(d.Status))
	}
	fmt.Fprintf(w, "network: %s\n", fl.NetworkState())
}

type sensorReader interface {
	ReadOutletPressure() (float64, error)
	ReadInletPressure() (float64, error)
	ReadInletTemperature() (float64, error)
}

// printState prints each reading, or "no data" when there are no drives to
// read it from.
func printState(w io.Writer, r sensorReader) error {
	for _, s := range []struct {
		name string
		read func() (float64, error)
	}{
		{"outlet pressure", r.ReadOutletPressure},
		{"inlet pressure", r.ReadInletPressure},
		{"inlet temperature", r.ReadInletTemperature},
	} {
		v, err := s.read()
		switch {
		case errors.Is(err, fleet.ErrNoData):
			fmt.Fprintf(w, "%s: no data\n", s.name)
		case err != nil:
			return fmt.Errorf("read %s: %w", s.name, err)
		default:
			fmt.Fprintf(w, "%s: %.1f\n", s.name, v)
		}
	}
	return nil
}
