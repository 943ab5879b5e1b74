package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ligustah/hoard/internal/task"
)

// TasksFile is the YAML document accepted by "hoard fetch".
//
//	batch: holiday-photos
//	tasks:
//	  - id: "1842"
//	    display_name: beach.jpg
//	    group_key: day-1
type TasksFile struct {
	Batch string            `yaml:"batch"`
	Tasks []task.Descriptor `yaml:"tasks"`
}

// LoadTasks reads and validates a tasks file.
func LoadTasks(path string) (TasksFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TasksFile{}, fmt.Errorf("read tasks file: %w", err)
	}

	var tf TasksFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return TasksFile{}, fmt.Errorf("parse tasks file: %w", err)
	}
	if len(tf.Tasks) == 0 {
		return TasksFile{}, fmt.Errorf("tasks file %s lists no tasks", path)
	}
	for _, d := range tf.Tasks {
		if err := d.Validate(); err != nil {
			return TasksFile{}, err
		}
	}
	return tf, nil
}
