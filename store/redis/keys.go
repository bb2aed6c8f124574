package redis

// Redis key naming conventions for voxpipe data.
// All keys are prefixed with "vox:" to avoid collisions.

const keyPrefix = "vox:"

// jobKey returns the key for a job record: vox:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for counting.
const jobIDsKey = keyPrefix + "job_ids"

// stageKey returns the Sorted Set of job IDs in a stage, scored by
// last-update time: vox:stage:{stage}
func stageKey(stage string) string { return keyPrefix + "stage:" + stage }

// nameKey returns the Sorted Set of job IDs sharing an original file
// name, scored by creation time: vox:name:{originalName}
func nameKey(name string) string { return keyPrefix + "name:" + name }

// sourceIdxKey is the Hash mapping source storage keys to job IDs.
const sourceIdxKey = keyPrefix + "source_idx"
