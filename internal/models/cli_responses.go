package models

// CliGpuUtilization is one row of --get-gpus-json output.
type CliGpuUtilization struct {
	Index                 int    `json:"index"`
	EffectiveIndex        int    `json:"effective_index"`
	UtilizationGPUPercent uint32 `json:"utilization_gpu_percent"`
	Idle                  bool   `json:"idle"`
}

// SystemOverview provides a snapshot of host-level metrics.
type SystemOverview struct {
	Hostname         string  `json:"hostname"`
	TotalDiskSpaceGB uint64  `json:"total_disk_space_gb"`
	FreeDiskSpaceGB  uint64  `json:"free_disk_space_gb"`
	CpuUsagePercent  float32 `json:"cpu_usage_percent"`
	RamUsagePercent  float32 `json:"ram_usage_percent"`
	UptimeSeconds    uint64  `json:"uptime_seconds"`
}

// CliSessionPlan describes one session the dispatcher would create.
type CliSessionPlan struct {
	Session    string   `json:"session"`
	ResourceID int      `json:"resource_id"`
	Commands   []string `json:"commands"`
}

// CliPlan is the output of --plan-json.
type CliPlan struct {
	GridKeys     []string         `json:"grid_keys"`
	Combinations int              `json:"combinations"`
	Resources    []int            `json:"resources"`
	ChunkSize    int              `json:"chunk_size"`
	Template     string           `json:"template"`
	Sessions     []CliSessionPlan `json:"sessions"`
}
