package postgres

const queryInsertJob = `
INSERT INTO watch_jobs (job_id, schedule, filter, last_run, sent_item_ids, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryGetJob = `
SELECT job_id, schedule, filter, last_run, sent_item_ids, created_at, updated_at
FROM watch_jobs
WHERE job_id = $1
`

const queryListJobs = `
SELECT job_id, schedule, filter, last_run, sent_item_ids, created_at, updated_at
FROM watch_jobs
ORDER BY created_at
`

const queryDeleteJob = `
DELETE FROM watch_jobs WHERE job_id = $1
`

const queryUpdateDefinition = `
UPDATE watch_jobs
SET schedule = $2, filter = $3, updated_at = $4
WHERE job_id = $1
`

const queryUpdateRunState = `
UPDATE watch_jobs
SET last_run = $2, sent_item_ids = $3, updated_at = $4
WHERE job_id = $1
`
