package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brifyai/BrifyRRHHv3-sub004/internal/provision"
)

func newProvisionCmd() *cobra.Command {
	var (
		flagName      string
		flagCompany   string
		flagCompanyID string
		flagData      []string
	)

	cmd := &cobra.Command{
		Use:   "provision <employee-email>",
		Short: "Provision an employee's folder",
		Long: `Ensure exactly one remote folder and one local record exist for the
employee. Safe to re-run: an existing folder yields already_exists and an
access check, never a duplicate.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseDataFlags(flagData)
			if err != nil {
				return err
			}

			return runProvision(cmd, provision.Request{
				EmployeeEmail: args[0],
				EmployeeName:  flagName,
				CompanyName:   flagCompany,
				CompanyID:     flagCompanyID,
				EmployeeData:  data,
			})
		},
	}

	cmd.Flags().StringVar(&flagName, "name", "", "employee display name")
	cmd.Flags().StringVar(&flagCompany, "company", "", "company name (selects the enterprise allow-list)")
	cmd.Flags().StringVar(&flagCompanyID, "company-id", "", "company identifier recorded on the folder row")
	cmd.Flags().StringArrayVar(&flagData, "data", nil, "extra employee metadata as key=value (repeatable)")

	return cmd
}

func runProvision(cmd *cobra.Command, req provision.Request) error {
	a, err := newApp(flagPrincipal)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.provisioner.Provision(cmd.Context(), req)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(map[string]any{
			"outcome":        string(result.Outcome),
			"classification": string(result.Classification),
			"folder_id":      result.FolderID,
			"folder_url":     result.FolderURL,
			"shared":         result.Shared,
		})
	}

	statusf("%s: %s (%s)\n", req.EmployeeEmail, result.Outcome, result.Classification)

	if result.FolderURL != "" {
		fmt.Println(result.FolderURL)
	}

	return nil
}

func parseDataFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	data := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --data %q: want key=value", pair)
		}

		data[key] = value
	}

	return data, nil
}
