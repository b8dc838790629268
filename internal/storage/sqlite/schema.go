package sqlite

const schema = `
-- Issues table
CREATE TABLE IF NOT EXISTS issues (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL CHECK(length(title) <= 500),
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'open',
    priority INTEGER NOT NULL DEFAULT 2 CHECK(priority >= 0 AND priority <= 4),
    issue_type TEXT NOT NULL DEFAULT 'task',
    assignee TEXT,
    parent_id TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    closed_at DATETIME,
    close_reason TEXT DEFAULT '',
    remote_number INTEGER DEFAULT 0,
    remote_url TEXT DEFAULT '',
    last_synced_at DATETIME,
    CHECK (
        (status = 'closed' AND closed_at IS NOT NULL) OR
        (status != 'closed' AND closed_at IS NULL)
    )
);

CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(status);
CREATE INDEX IF NOT EXISTS idx_issues_assignee ON issues(assignee);
CREATE INDEX IF NOT EXISTS idx_issues_updated_at ON issues(updated_at);
CREATE INDEX IF NOT EXISTS idx_issues_priority ON issues(priority);

-- Dependencies table
CREATE TABLE IF NOT EXISTS dependencies (
    issue_id TEXT NOT NULL,
    depends_on_id TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'blocks',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (issue_id, depends_on_id),
    FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE,
    FOREIGN KEY (depends_on_id) REFERENCES issues(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_dependencies_issue ON dependencies(issue_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_depends_on_type ON dependencies(depends_on_id, type);

-- Labels table
CREATE TABLE IF NOT EXISTS labels (
    issue_id TEXT NOT NULL,
    label TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (issue_id, label),
    FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_labels_label ON labels(label);

-- Mappings table (local id <-> remote number within one owner/repo scope)
CREATE TABLE IF NOT EXISTS mappings (
    local_id TEXT NOT NULL,
    owner TEXT NOT NULL,
    repo TEXT NOT NULL,
    installation_id INTEGER NOT NULL DEFAULT 0,
    remote_number INTEGER NOT NULL,
    remote_url TEXT DEFAULT '',
    local_snap DATETIME NOT NULL,
    remote_snap DATETIME NOT NULL,
    PRIMARY KEY (owner, repo, local_id),
    UNIQUE (owner, repo, remote_number)
);

CREATE INDEX IF NOT EXISTS idx_mappings_remote ON mappings(owner, repo, remote_number);

-- Webhook delivery dedup set
CREATE TABLE IF NOT EXISTS webhook_deliveries (
    delivery_id TEXT PRIMARY KEY,
    received_at DATETIME NOT NULL,
    processed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_deliveries_received ON webhook_deliveries(received_at);

-- Tracked repos
CREATE TABLE IF NOT EXISTS repos (
    owner TEXT NOT NULL,
    name TEXT NOT NULL,
    installation_id INTEGER NOT NULL DEFAULT 0,
    sync_enabled INTEGER NOT NULL DEFAULT 1,
    last_sync_at DATETIME,
    sync_status TEXT DEFAULT '',
    sync_error TEXT DEFAULT '',
    PRIMARY KEY (owner, name)
);

-- Registered agents
CREATE TABLE IF NOT EXISTS agents (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    tier TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    framework TEXT NOT NULL DEFAULT '',
    capabilities TEXT NOT NULL DEFAULT '[]',
    focus TEXT NOT NULL DEFAULT '[]',
    autonomy TEXT NOT NULL DEFAULT '',
    tools TEXT NOT NULL DEFAULT '[]',
    registered_at INTEGER NOT NULL
);

-- Workflow instances (owned by the durable step runtime)
CREATE TABLE IF NOT EXISTS workflow_instances (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'running',
    params TEXT NOT NULL DEFAULT '{}',
    error TEXT DEFAULT '',
    waiting_event TEXT DEFAULT '',
    wait_deadline DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_instances_status ON workflow_instances(status);

-- Step records: at most one per (workflow_id, step_name); write-once
CREATE TABLE IF NOT EXISTS step_records (
    workflow_id TEXT NOT NULL,
    step_name TEXT NOT NULL,
    result TEXT NOT NULL DEFAULT 'null',
    completed_at DATETIME NOT NULL,
    PRIMARY KEY (workflow_id, step_name),
    FOREIGN KEY (workflow_id) REFERENCES workflow_instances(id) ON DELETE CASCADE
);

-- Delivered workflow events; first delivery per (workflow_id, name) wins
CREATE TABLE IF NOT EXISTS workflow_events (
    workflow_id TEXT NOT NULL,
    name TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT 'null',
    delivered_at DATETIME NOT NULL,
    PRIMARY KEY (workflow_id, name)
);

-- Events table (audit trail)
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    issue_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    old_value TEXT,
    new_value TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_events_issue ON events(issue_id);
`
