package textlayout

import (
	"encoding/json"
	"os"
)

// WriteDebugJSON 将排版结果输出为 JSON，便于调试或可视化。
func WriteDebugJSON(metrics map[string]Metrics, path string) error {
	if metrics == nil {
		return nil
	}
	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
