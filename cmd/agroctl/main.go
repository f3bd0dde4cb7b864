// agroctl is a thin HTTP client for a running agrod daemon.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var baseURL = "http://localhost:8080"

func main() {
	root := &cobra.Command{
		Use:   "agroctl",
		Short: "Control a running agrod daemon",
	}
	root.PersistentFlags().StringVar(&baseURL, "addr", baseURL, "agrod base URL")

	root.AddCommand(
		pingCmd(),
		initializeCmd(),
		registerCmd(),
		plantCmd(),
		startCmd(),
		stopCmd(),
		uploadCmd(),
		useCmd(),
		claimCmd(),
		machinesCmd(),
		plantsCmd(),
		dataCmd(),
		clusterCmd(),
		refreshCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check daemon connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doGet("/ping", nil)
		},
	}
}

func initializeCmd() *cobra.Command {
	var authority string
	cmd := &cobra.Command{
		Use:   "initialize",
		Short: "Create the cluster registry account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doPost("/initialize", map[string]any{"authority": authority})
		},
	}
	cmd.Flags().StringVar(&authority, "authority", "", "authority address")
	cmd.MarkFlagRequired("authority")
	return cmd
}

func registerCmd() *cobra.Command {
	var signer, machineID string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doPost("/machines/register", map[string]any{
				"signer":     signer,
				"machine_id": machineID,
			})
		},
	}
	cmd.Flags().StringVar(&signer, "signer", "", "signing identity address")
	cmd.Flags().StringVar(&machineID, "id", "", "machine id")
	cmd.MarkFlagRequired("signer")
	cmd.MarkFlagRequired("id")
	return cmd
}

func plantCmd() *cobra.Command {
	var signer, machine, name string
	cmd := &cobra.Command{
		Use:   "plant",
		Short: "Create a plant linked to a machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doPost("/plants/create", map[string]any{
				"signer":     signer,
				"machine":    machine,
				"plant_name": name,
			})
		},
	}
	cmd.Flags().StringVar(&signer, "signer", "", "signing identity address")
	cmd.Flags().StringVar(&machine, "machine", "", "machine account address")
	cmd.Flags().StringVar(&name, "name", "", "plant name")
	cmd.MarkFlagRequired("signer")
	cmd.MarkFlagRequired("machine")
	cmd.MarkFlagRequired("name")
	return cmd
}

func machineActionCmd(use, short, path string) *cobra.Command {
	var signer, machine string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doPost(path, map[string]any{
				"signer":  signer,
				"machine": machine,
			})
		},
	}
	cmd.Flags().StringVar(&signer, "signer", "", "signing identity address")
	cmd.Flags().StringVar(&machine, "machine", "", "machine account address")
	cmd.MarkFlagRequired("signer")
	cmd.MarkFlagRequired("machine")
	return cmd
}

func startCmd() *cobra.Command {
	return machineActionCmd("start", "Activate a machine and begin capture", "/machines/start")
}

func stopCmd() *cobra.Command {
	return machineActionCmd("stop", "Deactivate a machine and stop capture", "/machines/stop")
}

func claimCmd() *cobra.Command {
	return machineActionCmd("claim", "Claim accumulated machine rewards", "/machines/claim")
}

func uploadCmd() *cobra.Command {
	var signer, machine, plant, image string
	var temp, hum float64
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a telemetry reading manually",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doPost("/data/upload", map[string]any{
				"signer":      signer,
				"machine":     machine,
				"plant":       plant,
				"temperature": temp,
				"humidity":    hum,
				"image_url":   image,
			})
		},
	}
	cmd.Flags().StringVar(&signer, "signer", "", "signing identity address")
	cmd.Flags().StringVar(&machine, "machine", "", "machine account address")
	cmd.Flags().StringVar(&plant, "plant", "", "plant account address")
	cmd.Flags().Float64Var(&temp, "temp", 0, "temperature reading")
	cmd.Flags().Float64Var(&hum, "humidity", 0, "humidity reading")
	cmd.Flags().StringVar(&image, "image", "", "image URL (optional)")
	cmd.MarkFlagRequired("signer")
	cmd.MarkFlagRequired("machine")
	cmd.MarkFlagRequired("plant")
	return cmd
}

func useCmd() *cobra.Command {
	var signer, machine, data string
	var index uint64
	cmd := &cobra.Command{
		Use:   "use",
		Short: "Consume one data entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doPost("/data/use", map[string]any{
				"signer":  signer,
				"machine": machine,
				"data":    data,
				"index":   index,
			})
		},
	}
	cmd.Flags().StringVar(&signer, "signer", "", "signing identity address")
	cmd.Flags().StringVar(&machine, "machine", "", "machine account address")
	cmd.Flags().StringVar(&data, "data", "", "data account address")
	cmd.Flags().Uint64Var(&index, "index", 0, "entry index")
	cmd.MarkFlagRequired("signer")
	cmd.MarkFlagRequired("machine")
	cmd.MarkFlagRequired("data")
	return cmd
}

func machinesCmd() *cobra.Command {
	var owner, id string
	cmd := &cobra.Command{
		Use:   "machines",
		Short: "List machines, or fetch one by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id != "" {
				return doGet("/machines/get", url.Values{"id": {id}})
			}
			q := url.Values{}
			if owner != "" {
				q.Set("owner", owner)
			}
			return doGet("/machines", q)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "filter by owner address")
	cmd.Flags().StringVar(&id, "id", "", "fetch a single machine by id")
	return cmd
}

func plantsCmd() *cobra.Command {
	var machine string
	cmd := &cobra.Command{
		Use:   "plants",
		Short: "List plants",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if machine != "" {
				q.Set("machine", machine)
			}
			return doGet("/plants", q)
		},
	}
	cmd.Flags().StringVar(&machine, "machine", "", "filter by machine address")
	return cmd
}

func dataCmd() *cobra.Command {
	var machine, plant string
	cmd := &cobra.Command{
		Use:   "data",
		Short: "List data entries for a machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"machine": {machine}}
			if plant != "" {
				q.Set("plant", plant)
			}
			return doGet("/data", q)
		},
	}
	cmd.Flags().StringVar(&machine, "machine", "", "machine account address")
	cmd.Flags().StringVar(&plant, "plant", "", "plant account address")
	cmd.MarkFlagRequired("machine")
	return cmd
}

func clusterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cluster",
		Short: "Show the cluster registry state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doGet("/cluster", nil)
		},
	}
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a repository snapshot refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doPost("/refresh", map[string]any{})
		},
	}
}

func doGet(path string, q url.Values) error {
	u := baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	resp, err := http.Get(u)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func doPost(path string, body map[string]any) error {
	bs, _ := json.Marshal(body)
	resp, err := http.Post(baseURL+path, "application/json", bytes.NewBuffer(bs))
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return nil
}
