package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/dmitrijs2005/bugtracker/internal/client/models"
	"github.com/dmitrijs2005/bugtracker/internal/client/services"
)

// runForm is a test seam for huh.Form.RunWithContext.
var runForm = func(ctx context.Context, f *huh.Form) error {
	return f.RunWithContext(ctx)
}

var errAborted = errors.New("aborted")

func formError(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return errAborted
	}
	return err
}

func notBlank(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("required")
	}
	return nil
}

func draftForm(d *models.Draft) *huh.Form {
	if d.Category == "" {
		d.Category = models.CategoryOther
	}
	if d.Priority == "" {
		d.Priority = models.PriorityMedium
	}
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Title").Value(&d.Title).Validate(notBlank),
			huh.NewText().Title("Description").Value(&d.Description),
		),
		huh.NewGroup(
			huh.NewSelect[models.Category]().Title("Category").
				Options(huh.NewOptions(models.Categories...)...).
				Value(&d.Category),
			huh.NewSelect[models.Priority]().Title("Priority").
				Options(huh.NewOptions(models.Priorities...)...).
				Value(&d.Priority),
		),
	)
}

// editForm edits a copy of r's user fields; the caller diffs the result.
func editForm(r *models.BugRecord) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Title").Value(&r.Title).Validate(notBlank),
			huh.NewText().Title("Description").Value(&r.Description),
			huh.NewSelect[models.Category]().Title("Category").
				Options(huh.NewOptions(models.Categories...)...).
				Value(&r.Category),
			huh.NewSelect[models.Priority]().Title("Priority").
				Options(huh.NewOptions(models.Priorities...)...).
				Value(&r.Priority),
		),
	)
}

func loginForm(name *string, role *services.Role) *huh.Form {
	if *role == "" {
		*role = services.RoleUser
	}
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Display name").Value(name).Validate(notBlank),
			huh.NewSelect[services.Role]().Title("Role").
				Options(huh.NewOptions(services.RoleUser, services.RoleAdmin)...).
				Value(role),
		),
	)
}

func confirmForm(title string, ok *bool) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().Title(title).Affirmative("Yes").Negative("No").Value(ok),
		),
	)
}

// diffPatch returns the patch that turns before into after.
func diffPatch(before, after models.BugRecord) models.Patch {
	var p models.Patch
	if after.Title != before.Title {
		p.Title = &after.Title
	}
	if after.Description != before.Description {
		p.Description = &after.Description
	}
	if after.Category != before.Category {
		p.Category = &after.Category
	}
	if after.Priority != before.Priority {
		p.Priority = &after.Priority
	}
	return p
}
