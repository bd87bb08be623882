// cmd/tools/stage-registry/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"bmad-gateway/internal/common/config"
	"bmad-gateway/pkg/registry"
)

var registryPath string

func main() {
	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	updateCmd := flag.NewFlagSet("update", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)

	for _, fs := range []*flag.FlagSet{initCmd, addCmd, updateCmd, validateCmd} {
		fs.StringVar(&registryPath, "path", config.DefaultRegistryPath, "Path to stage registry file")
	}

	force := initCmd.Bool("force", false, "Overwrite an existing registry file")

	idAdd := addCmd.String("id", "", "Stage ID (e.g., review)")
	pathAdd := addCmd.String("route", "", "HTTP route (e.g., /bmad/review)")
	inputField := addCmd.String("inputField", "", "Request field substituted into the template")
	template := addCmd.String("template", "", "Template file, relative to the template directory")
	taskType := addCmd.String("taskType", "", "Camunda task type (e.g., bmad-review)")
	displayName := addCmd.String("displayName", "", "Display name")
	description := addCmd.String("description", "", "Description")

	idUpdate := updateCmd.String("id", "", "Stage ID to update")
	field := updateCmd.String("field", "", "Field to update (template, path, inputField, taskType, ...)")
	value := updateCmd.String("value", "", "New value for the field")

	templateDir := validateCmd.String("templates", "", "Also check that every template exists here and contains the marker")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		_ = initCmd.Parse(os.Args[2:])
		err = initRegistry(*force)

	case "add":
		_ = addCmd.Parse(os.Args[2:])
		if *idAdd == "" || *pathAdd == "" || *inputField == "" || *template == "" {
			fmt.Println("Error: id, route, inputField, and template are required for add.")
			addCmd.Usage()
			os.Exit(1)
		}
		err = addStage(registry.Stage{
			ID:          *idAdd,
			DisplayName: *displayName,
			Description: *description,
			Path:        *pathAdd,
			InputField:  *inputField,
			Template:    *template,
			TaskType:    *taskType,
		})

	case "update":
		_ = updateCmd.Parse(os.Args[2:])
		if *idUpdate == "" || *field == "" || *value == "" {
			fmt.Println("Error: id, field, and value are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		err = updateStage(*idUpdate, *field, *value)

	case "validate":
		_ = validateCmd.Parse(os.Args[2:])
		err = validateRegistry(*templateDir)

	default:
		help()
		return
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func initRegistry(force bool) error {
	if _, err := os.Stat(registryPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", registryPath)
	}
	if err := registry.SaveRegistry(registry.DefaultStages(), registryPath); err != nil {
		return err
	}
	fmt.Printf("Wrote default stages to %s\n", registryPath)
	return nil
}

func addStage(stage registry.Stage) error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		return err
	}
	if err := reg.Add(stage); err != nil {
		return err
	}
	if err := registry.SaveRegistry(reg, registryPath); err != nil {
		return err
	}
	fmt.Printf("Added stage: %s\n", stage.ID)
	return nil
}

func updateStage(id, field, value string) error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		return err
	}
	if err := reg.Update(id, field, value); err != nil {
		return err
	}
	if err := registry.SaveRegistry(reg, registryPath); err != nil {
		return err
	}
	fmt.Printf("Updated stage %s, field %s to %s\n", id, field, value)
	return nil
}

func validateRegistry(templateDir string) error {
	if _, err := os.Stat(registryPath); err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		return err
	}

	if templateDir != "" {
		pipeline := config.PipelineConfig{TemplateDir: templateDir}
		for _, stage := range reg.Stages {
			path := pipeline.ResolveTemplate(stage.Template)
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("stage %s: %w", stage.ID, err)
			}
			if !strings.Contains(string(data), config.DefaultMarker) {
				fmt.Printf("Warning: stage %s template %s has no %s marker\n", stage.ID, path, config.DefaultMarker)
			}
		}
	}

	fmt.Printf("Registry validation passed. Found %d stages.\n", len(reg.Stages))
	return nil
}

func help() {
	fmt.Print(`
Usage: stage-registry <command> [flags]

Commands:
  init      Write the default brief/arch/tasks/deliver stages
  add       Add a stage to the registry
  update    Update an existing stage's field
  validate  Validate the registry file (and optionally its templates)
  help      Show this help message

Examples:
  stage-registry init -path configs/stages.json
  stage-registry add -id review -route /bmad/review -inputField diff -template review.md -taskType bmad-review
  stage-registry update -id brief -field template -value brief-v2.md
  stage-registry validate -path configs/stages.json -templates bmad_prompts

Use 'stage-registry <command> -h' for more information about a command.
` + "\n")
}
