package config

const (
	defaultWorkDir                 = "~/.local/share/framecut/work"
	defaultLogDir                  = "~/.local/share/framecut/logs"
	defaultHistoryDB               = "~/.local/share/framecut/history.db"
	defaultFFmpegBinary            = "ffmpeg"
	defaultFFprobeBinary           = "ffprobe"
	defaultLoadTimeoutSeconds      = 60
	defaultOperationTimeoutSeconds = 300
	defaultMinFreeMiB              = 512
	defaultQualityLow              = 40
	defaultQualityMedium           = 32
	defaultQualityHigh             = 24
	defaultReleaseGraceMillis      = 1000
	defaultBind                    = "127.0.0.1:7490"
	defaultRequestsPerMinute       = 60
	defaultBurst                   = 10
	defaultMaxUploadMiB            = 2048
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultLogRetentionDays        = 14
	defaultLogMaxFileMiB           = 50
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:   defaultWorkDir,
			LogDir:    defaultLogDir,
			HistoryDB: defaultHistoryDB,
		},
		Engine: Engine{
			FFmpegBinary:            defaultFFmpegBinary,
			FFprobeBinary:           defaultFFprobeBinary,
			LoadTimeoutSeconds:      defaultLoadTimeoutSeconds,
			OperationTimeoutSeconds: defaultOperationTimeoutSeconds,
			MinFreeMiB:              defaultMinFreeMiB,
		},
		Quality: Quality{
			Low:    defaultQualityLow,
			Medium: defaultQualityMedium,
			High:   defaultQualityHigh,
		},
		Artifacts: Artifacts{
			ReleaseGraceMillis: defaultReleaseGraceMillis,
		},
		Server: Server{
			Bind:              defaultBind,
			RequestsPerMinute: defaultRequestsPerMinute,
			Burst:             defaultBurst,
			MaxUploadMiB:      defaultMaxUploadMiB,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
			MaxFileMiB:    defaultLogMaxFileMiB,
		},
	}
}
