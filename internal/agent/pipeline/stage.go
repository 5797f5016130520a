package pipeline

// Stage names are wire literals: progress rows, the SSE stream and the
// operator CLI all key on them.
const (
	stageDumpDB  = "backup_db"
	stageFiles   = "backup_files"
	stageBundle  = "create_bundle"
	stageUpload  = "upload_remote"
	stageCleanup = "cleanup"
)

// stageDef pairs a stage with its share of the overall percent. The
// weights sum to 100; the job's percent is the sum of finished stage
// weights plus the running stage's weight scaled by its fraction.
type stageDef struct {
	name   string
	weight int
}

var stageOrder = []stageDef{
	{stageDumpDB, 20},
	{stageFiles, 20},
	{stageBundle, 20},
	{stageUpload, 30},
	{stageCleanup, 10},
}

// bytesFn reports a running stage's byte counters. A zero total means
// the stage cannot estimate its size (a streaming dump); the stage then
// contributes to the percent only once finished.
type bytesFn func(processed, total int64)
