package mysql

// currentSchemaVersion gates schema initialization. Bump when the DDL below
// changes; initSchema skips all DDL when the stored version is current.
const currentSchemaVersion = 1

// schema defines the MySQL schema for the monitoring store. The statements
// are split and executed one at a time because the driver does not support
// multi-statement Exec.
const schema = `
-- Mentions: the central entity. One row per observed item.
CREATE TABLE IF NOT EXISTS mentions (
    entry_id BIGINT AUTO_INCREMENT PRIMARY KEY,
    source_id VARCHAR(255),
    url VARCHAR(2048),
    platform VARCHAR(32) NOT NULL,
    source_type VARCHAR(32) NOT NULL DEFAULT '',
    source_name VARCHAR(255) NOT NULL DEFAULT '',
    query VARCHAR(512) NOT NULL DEFAULT '',
    collected_at DATETIME NOT NULL,
    published_at DATETIME NOT NULL,
    language VARCHAR(16) NOT NULL DEFAULT '',
    country VARCHAR(64) NOT NULL DEFAULT '',
    title VARCHAR(1024) NOT NULL DEFAULT '',
    text TEXT NOT NULL,
    normalized_text TEXT,
    fingerprint VARCHAR(64) NOT NULL,
    author_handle VARCHAR(255) NOT NULL DEFAULT '',
    author_name VARCHAR(255) NOT NULL DEFAULT '',
    author_avatar VARCHAR(1024) NOT NULL DEFAULT '',
    author_location VARCHAR(255) NOT NULL DEFAULT '',
    author_verified TINYINT(1) NOT NULL DEFAULT 0,
    likes BIGINT NOT NULL DEFAULT 0,
    shares BIGINT NOT NULL DEFAULT 0,
    comments BIGINT NOT NULL DEFAULT 0,
    direct_reach BIGINT NOT NULL DEFAULT 0,
    cumulative_reach BIGINT NOT NULL DEFAULT 0,
    sentiment_label VARCHAR(16),
    sentiment_score DOUBLE,
    sentiment_justification TEXT,
    emotion_label VARCHAR(16),
    emotion_score DOUBLE,
    emotion_distribution JSON,
    influence_weight DOUBLE,
    confidence_weight DOUBLE,
    location_label VARCHAR(128),
    location_confidence DOUBLE,
    ministry_hint VARCHAR(128) NOT NULL DEFAULT '',
    issue_slug VARCHAR(255) NOT NULL DEFAULT '',
    issue_label VARCHAR(512) NOT NULL DEFAULT '',
    issue_confidence DOUBLE,
    processing_status VARCHAR(16) NOT NULL DEFAULT 'pending',
    processing_started_at DATETIME,
    processing_completed_at DATETIME,
    failure_reason VARCHAR(255) NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    UNIQUE KEY uq_mentions_platform_source (platform, source_id),
    INDEX idx_mentions_claim (sentiment_label, processing_status),
    INDEX idx_mentions_published_at (published_at),
    INDEX idx_mentions_fingerprint (fingerprint),
    INDEX idx_mentions_url (url(191)),
    INDEX idx_mentions_platform_collected (platform, collected_at),
    INDEX idx_mentions_status_started (processing_status, processing_started_at)
);

-- Embeddings: one unit vector per analyzed mention.
CREATE TABLE IF NOT EXISTS embeddings (
    entry_id BIGINT PRIMARY KEY,
    vector JSON NOT NULL,
    model VARCHAR(128) NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CONSTRAINT fk_embeddings_mention FOREIGN KEY (entry_id) REFERENCES mentions(entry_id) ON DELETE CASCADE
);

-- Topics: the semi-static taxonomy.
CREATE TABLE IF NOT EXISTS topics (
    topic_key VARCHAR(128) PRIMARY KEY,
    display_name VARCHAR(255) NOT NULL DEFAULT '',
    category VARCHAR(128) NOT NULL DEFAULT '',
    keywords JSON,
    keyword_groups JSON,
    centroid JSON,
    active TINYINT(1) NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
);

-- Mention-topic associations with per-association scores.
CREATE TABLE IF NOT EXISTS mention_topics (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    mention_id BIGINT NOT NULL,
    topic_key VARCHAR(128) NOT NULL,
    keyword_score DOUBLE NOT NULL DEFAULT 0,
    embedding_score DOUBLE NOT NULL DEFAULT 0,
    topic_confidence DOUBLE NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uq_mention_topics (mention_id, topic_key),
    INDEX idx_mention_topics_topic (topic_key),
    CONSTRAINT fk_mt_mention FOREIGN KEY (mention_id) REFERENCES mentions(entry_id) ON DELETE CASCADE,
    CONSTRAINT fk_mt_topic FOREIGN KEY (topic_key) REFERENCES topics(topic_key) ON DELETE CASCADE
);

-- Issues: emergent clusters within a topic.
CREATE TABLE IF NOT EXISTS topic_issues (
    issue_id VARCHAR(36) PRIMARY KEY,
    topic_key VARCHAR(128) NOT NULL,
    issue_slug VARCHAR(255) NOT NULL,
    issue_label VARCHAR(512) NOT NULL DEFAULT '',
    state VARCHAR(24) NOT NULL DEFAULT 'emerging',
    priority_score DOUBLE NOT NULL DEFAULT 0,
    priority_band VARCHAR(16) NOT NULL DEFAULT 'low',
    mention_count INT NOT NULL DEFAULT 0,
    start_time DATETIME NOT NULL,
    last_activity DATETIME NOT NULL,
    centroid_embedding JSON,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    UNIQUE KEY uq_topic_issues_slug (topic_key, issue_slug),
    INDEX idx_topic_issues_topic_state (topic_key, state),
    INDEX idx_topic_issues_state (state),
    CONSTRAINT fk_ti_topic FOREIGN KEY (topic_key) REFERENCES topics(topic_key) ON DELETE CASCADE
);

-- Issue membership junction.
CREATE TABLE IF NOT EXISTS issue_mentions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    issue_id VARCHAR(36) NOT NULL,
    mention_id BIGINT NOT NULL,
    similarity_score DOUBLE NOT NULL DEFAULT 0,
    detected_at DATETIME NOT NULL,
    UNIQUE KEY uq_issue_mentions (issue_id, mention_id),
    INDEX idx_issue_mentions_issue (issue_id),
    INDEX idx_issue_mentions_mention (mention_id),
    INDEX idx_issue_mentions_detected (issue_id, detected_at),
    CONSTRAINT fk_im_issue FOREIGN KEY (issue_id) REFERENCES topic_issues(issue_id) ON DELETE CASCADE,
    CONSTRAINT fk_im_mention FOREIGN KEY (mention_id) REFERENCES mentions(entry_id) ON DELETE CASCADE
);

-- Issue lifecycle transition audit.
CREATE TABLE IF NOT EXISTS issue_events (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    issue_id VARCHAR(36) NOT NULL,
    from_state VARCHAR(24) NOT NULL,
    to_state VARCHAR(24) NOT NULL,
    reason VARCHAR(512) NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    INDEX idx_issue_events_issue (issue_id),
    CONSTRAINT fk_ie_issue FOREIGN KEY (issue_id) REFERENCES topic_issues(issue_id) ON DELETE CASCADE
);

-- Windowed sentiment rollups.
CREATE TABLE IF NOT EXISTS aggregations (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    subject_kind VARCHAR(16) NOT NULL,
    subject_key VARCHAR(255) NOT NULL,
    window_size VARCHAR(8) NOT NULL,
    window_start DATETIME NOT NULL,
    window_end DATETIME NOT NULL,
    weighted_sentiment_score DOUBLE NOT NULL DEFAULT 0,
    sentiment_index INT NOT NULL DEFAULT 50,
    sentiment_distribution JSON,
    emotion_distribution JSON,
    emotion_adjusted_severity DOUBLE NOT NULL DEFAULT 0,
    mention_count INT NOT NULL DEFAULT 0,
    total_influence_weight DOUBLE NOT NULL DEFAULT 0,
    normalized_sentiment_score DOUBLE,
    computed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uq_aggregations_window (subject_kind, subject_key, window_size, window_start),
    INDEX idx_aggregations_lookup (subject_kind, subject_key, window_size, window_end)
);

-- Period-over-period comparisons.
CREATE TABLE IF NOT EXISTS trends (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    subject_kind VARCHAR(16) NOT NULL,
    subject_key VARCHAR(255) NOT NULL,
    window_size VARCHAR(8) NOT NULL,
    window_start DATETIME NOT NULL,
    current_index INT NOT NULL DEFAULT 0,
    previous_index INT NOT NULL DEFAULT 0,
    direction VARCHAR(16) NOT NULL DEFAULT 'stable',
    magnitude INT NOT NULL DEFAULT 0,
    computed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uq_trends_window (subject_kind, subject_key, window_size, window_start)
);

-- Per-topic historical baselines.
CREATE TABLE IF NOT EXISTS baselines (
    topic_key VARCHAR(128) PRIMARY KEY,
    baseline_index DOUBLE NOT NULL DEFAULT 50,
    deviation DOUBLE NOT NULL DEFAULT 0,
    sample_count INT NOT NULL DEFAULT 0,
    computed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Small key/value records: tailer cursors, config overrides, schema version.
CREATE TABLE IF NOT EXISTS kv (
    ` + "`key`" + ` VARCHAR(255) PRIMARY KEY,
    ` + "`value`" + ` TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
);
`
