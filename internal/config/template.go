package config

const defaultTemplate = `# lastplay configuration

[input]
save_key = "ctrl+space"
debug = false
require_elevation = true   # refuse to start without administrator rights (Windows)
log_file = ""

[obs]
host = "localhost"
port = 4455
password = ""
timeout = 3.0

[audio]
enabled = true
notifications = true
start = "sounds/start.wav"
ready = "sounds/ready.wav"
saved = "sounds/saved.wav"
failed = "sounds/failed.wav"

[detection]
interval = 0.25
detections_required = 2
session_grace = 5.0
force_game = ""            # pin a game id and skip window detection
profiles = "games.json"

[recording]
policy = "overwrite"       # or "always-keep"
output_dir = ""            # empty: the recorder's own directory
save_screenshots = true
scene_change_delay = 0.3
save_grace = 0.0           # seconds a purged take stays saveable as lastplay

[history]
database = ""              # "sqlite:lastplay.db" or "postgres://..."

[events]
nats_url = ""

[archive]
s3_bucket = ""
s3_region = "us-east-1"
s3_endpoint = ""
s3_prefix = "lastplay/"

[status]
http_addr = ""
grpc_addr = ""
# Bearer token required on HTTP requests other than /v1/health.
token = ""

[telemetry]
otel_endpoint = ""

[scenes]
# Default = "Main"

# [scenes.IIDX]
# Playing = "IIDX Play"

[video]
# Base = "1920x1080"
# Output = "1280x720"
# FPS = 60

# [video.IIDX]
# FPS = 120
`
