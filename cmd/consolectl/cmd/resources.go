package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	console "github.com/giantswarm/console-core"
	"github.com/giantswarm/console-core/resources"
)

var displayNameFlag string

var orgsCmd = &cobra.Command{
	Use:     "orgs",
	Aliases: []string{"organizations"},
	Short:   "Manage organizations",
}

var orgsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List organizations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(session *console.Session) error {
			orgs, err := session.Organizations.List(cmd.Context())
			if err != nil {
				return err
			}
			return printTable(cmd.OutOrStdout(), []string{"NAME", "DISPLAY NAME"}, len(orgs), func(i int) []string {
				return []string{orgs[i].Name, orgs[i].DisplayName}
			})
		})
	},
}

var orgsCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(session *console.Session) error {
			res, err := session.Organizations.Create(cmd.Context(), &resources.CreateOrganizationRequest{
				Name:        args[0],
				DisplayName: displayNameFlag,
			}).Wait(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created organization %s\n", res.Organization.Name)
			return nil
		})
	},
}

var orgsDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete an organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(session *console.Session) error {
			if _, err := session.Organizations.Delete(cmd.Context(), args[0]).Wait(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted organization %s\n", args[0])
			return nil
		})
	},
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage projects of an organization",
}

var projectsListCmd = &cobra.Command{
	Use:   "list ORGANIZATION",
	Short: "List projects",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(session *console.Session) error {
			projects, err := session.Projects.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printTable(cmd.OutOrStdout(), []string{"NAME", "DISPLAY NAME"}, len(projects), func(i int) []string {
				return []string{projects[i].Name, projects[i].DisplayName}
			})
		})
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create ORGANIZATION NAME",
	Short: "Create a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(session *console.Session) error {
			res, err := session.Projects.Create(cmd.Context(), &resources.CreateProjectRequest{
				Organization: args[0],
				Name:         args[1],
				DisplayName:  displayNameFlag,
			}).Wait(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created project %s/%s\n", res.Project.Organization, res.Project.Name)
			return nil
		})
	},
}

var projectsDeleteCmd = &cobra.Command{
	Use:   "delete ORGANIZATION NAME",
	Short: "Delete a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(session *console.Session) error {
			if _, err := session.Projects.Delete(cmd.Context(), args[0], args[1]).Wait(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %s/%s\n", args[0], args[1])
			return nil
		})
	},
}

func printTable(w io.Writer, header []string, rows int, row func(i int) []string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	writeRow(tw, header)
	for i := 0; i < rows; i++ {
		writeRow(tw, row(i))
	}
	return tw.Flush()
}

func writeRow(w io.Writer, cells []string) {
	for i, cell := range cells {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, cell)
	}
	fmt.Fprintln(w)
}

func init() {
	orgsCreateCmd.Flags().StringVar(&displayNameFlag, "display-name", "", "human readable name")
	projectsCreateCmd.Flags().StringVar(&displayNameFlag, "display-name", "", "human readable name")

	orgsCmd.AddCommand(orgsListCmd, orgsCreateCmd, orgsDeleteCmd)
	projectsCmd.AddCommand(projectsListCmd, projectsCreateCmd, projectsDeleteCmd)
	rootCmd.AddCommand(orgsCmd, projectsCmd)
}
