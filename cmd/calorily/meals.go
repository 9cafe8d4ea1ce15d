package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/calorily/internal/model"
	"github.com/sakif/calorily/internal/views"
)

func newMealsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "meals",
		GroupID: "data",
		Short:   "List and edit logged meals",
	}
	cmd.PersistentFlags().Bool("json", false, "print JSON instead of a table")

	cmd.AddCommand(
		newListCmd(a, "today", "Meals since local midnight", (*views.Views).Today),
		newListCmd(a, "week", "Meals from the last seven days", (*views.Views).LastWeek),
		newListCmd(a, "favorites", "Favorite meals", (*views.Views).Favorites),
		newAddCmd(a),
		newDeleteCmd(a),
		newFavoriteCmd(a),
	)
	return cmd
}

type listQuery func(*views.Views, context.Context) ([]model.Meal, error)

func newListCmd(a *app, use, short string, query listQuery) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.openLocal()
			if err != nil {
				return err
			}
			defer l.Close()

			meals, err := query(l.views, cmd.Context())
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), meals)
			}
			return printMeals(cmd.OutOrStdout(), meals)
		},
	}
}

func newAddCmd(a *app) *cobra.Command {
	var in model.ManualMeal
	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Log a meal by hand",
		Example: `  calorily meals add --name "Porridge" --carbs 50 --proteins 10 --fats 8 --image ~/photos/porridge.jpg`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.openLocal()
			if err != nil {
				return err
			}
			defer l.Close()

			meal, err := l.meals.InsertManualMeal(cmd.Context(), in)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), meal)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added meal %d (%.0f kcal)\n", meal.ID, meal.Calories())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "meal name")
	f.Float64Var(&in.Carbs, "carbs", 0, "carbohydrates in grams")
	f.Float64Var(&in.Proteins, "proteins", 0, "protein in grams")
	f.Float64Var(&in.Fats, "fats", 0, "fat in grams")
	f.StringVar(&in.ImagePath, "image", "", "photo to attach")
	f.BoolVar(&in.Favorite, "favorite", false, "mark as favorite")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("image")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a meal and its photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			l, err := a.openLocal()
			if err != nil {
				return err
			}
			defer l.Close()

			if err := l.meals.DeleteMeal(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted meal %d\n", id)
			return nil
		},
	}
}

func newFavoriteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "favorite ID",
		Short: "Toggle a meal's favorite flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			l, err := a.openLocal()
			if err != nil {
				return err
			}
			defer l.Close()

			fav, err := l.meals.ToggleFavorite(cmd.Context(), id)
			if err != nil {
				return err
			}
			state := "no longer a favorite"
			if fav {
				state = "now a favorite"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Meal %d is %s\n", id, state)
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid meal id %q", s)
	}
	return id, nil
}

func printMeals(w io.Writer, meals []model.Meal) error {
	if len(meals) == 0 {
		_, err := fmt.Fprintln(w, "No meals.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tNAME\tKCAL\tSTATUS\tFAV")
	for _, m := range meals {
		name := "-"
		if m.Name != nil {
			name = *m.Name
		}
		fav := ""
		if m.Favorite {
			fav = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.0f\t%s\t%s\n",
			m.ID,
			time.Unix(m.Timestamp, 0).Local().Format("Mon 15:04"),
			name,
			m.Calories(),
			m.Status,
			fav,
		)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
