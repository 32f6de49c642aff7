package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/kilupskalvis/modsync/internal/models"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the course's modules in order",
	Args:    cobra.NoArgs,
	Run:     runList,
}

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Append a module to the course",
	Args:  cobra.ExactArgs(1),
	Run:   runAdd,
}

var editCmd = &cobra.Command{
	Use:   "edit <module>",
	Short: "Change a module's title or description",
	Long: `Change a module's title or description. <module> is a position,
a module id, or the short id shown by 'modsync list'.`,
	Args: cobra.ExactArgs(1),
	Run:  runEdit,
}

var rmCmd = &cobra.Command{
	Use:   "rm <module>...",
	Short: "Delete modules",
	Long: `Delete one or more modules. The remaining modules are renumbered
so positions stay 1..N.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runRm,
}

var moveCmd = &cobra.Command{
	Use:   "move <module> <position>",
	Short: "Move a module to a new position",
	Long: `Move a module to a new 1-based position. Modules in between shift
by one. The complete new order is sent to the server in one request.`,
	Args: cobra.ExactArgs(2),
	Run:  runMove,
}

var (
	addDesc   string
	editTitle string
	editDesc  string
)

func init() {
	addCmd.Flags().StringVarP(&addDesc, "desc", "d", "", "Module description")

	editCmd.Flags().StringVar(&editTitle, "title", "", "New title")
	editCmd.Flags().StringVarP(&editDesc, "desc", "d", "", "New description")
}

func runList(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	col := c.openCourse(context.Background())
	items := col.Items()
	if len(items) == 0 {
		fmt.Printf("Course '%s' has no modules\n", col.ParentID())
		return
	}

	yellow := color.New(color.FgYellow)
	faint := color.New(color.Faint)
	for _, m := range items {
		yellow.Printf("%3d. ", m.Position)
		fmt.Printf("%-40s ", m.Title)
		faint.Printf("%s  %s\n", shortID(m.ID), formatCounts(m.Counts))
	}
}

func runAdd(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	ctx := context.Background()
	col := c.openCourse(ctx)

	m, err := col.Create(ctx, models.ModuleFields{Title: args[0], Description: addDesc})
	if err != nil {
		exitMutation(err)
	}

	green := color.New(color.FgGreen)
	green.Printf("Added '%s' at position %d ", m.Title, m.Position)
	fmt.Printf("(%s)\n", shortID(m.ID))
}

func runEdit(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	var patch models.ModulePatch
	if cmd.Flags().Changed("title") {
		patch.Title = &editTitle
	}
	if cmd.Flags().Changed("desc") {
		patch.Description = &editDesc
	}

	ctx := context.Background()
	col := c.openCourse(ctx)
	idx, err := resolveModule(col.Items(), args[0])
	if err != nil {
		exitError("%v", err)
	}
	m := col.Items()[idx]

	if err := col.Update(ctx, m.ID, patch); err != nil {
		exitMutation(err)
	}
	fmt.Printf("Updated module %d (%s)\n", m.Position, shortID(m.ID))
}

func runRm(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	ctx := context.Background()
	col := c.openCourse(ctx)

	// Resolve every reference before deleting anything; positions shift
	// after each delete.
	items := col.Items()
	targets := make([]models.Module, 0, len(args))
	for _, ref := range args {
		idx, err := resolveModule(items, ref)
		if err != nil {
			exitError("%v", err)
		}
		targets = append(targets, items[idx])
	}

	for _, m := range targets {
		if err := col.Delete(ctx, m.ID); err != nil {
			exitMutation(err)
		}
		fmt.Printf("Deleted '%s'\n", m.Title)
	}
}

func runMove(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	ctx := context.Background()
	col := c.openCourse(ctx)
	items := col.Items()

	from, err := resolveModule(items, args[0])
	if err != nil {
		exitError("%v", err)
	}
	pos, err := strconv.Atoi(args[1])
	if err != nil || pos < 1 || pos > len(items) {
		exitError("position must be between 1 and %d", len(items))
	}

	moved, err := moveModule(ctx, col, items[from].ID, from, pos-1)
	if err != nil {
		exitMutation(err)
	}
	if !moved {
		fmt.Println("Already in place")
		return
	}
	fmt.Printf("Moved '%s' to position %d\n", items[from].Title, pos)
}

// moveModule reorders through a drag session so a move from the command
// line takes the same path as a pointer gesture.
func moveModule(ctx context.Context, col *moduleCollection, id string, from, to int) (bool, error) {
	d := col.Drag()
	if err := d.Start(id, from); err != nil {
		return false, err
	}
	d.Move(to)
	return col.Drop(ctx)
}

func formatCounts(c models.Counts) string {
	return fmt.Sprintf("%s, %s, %s",
		plural(c.Lessons, "lesson"), plural(c.Quizzes, "quiz"), plural(c.Assignments, "assignment"))
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	if noun == "quiz" {
		return fmt.Sprintf("%d quizzes", n)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
