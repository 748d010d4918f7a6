// Package job runs uploaded recordings through the splitting pipeline in the
// background. Jobs are identified by UUID and kept for a retention period
// after they finish.
package job
