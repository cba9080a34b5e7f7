// Package internal contains the implementation packages for framecast.
//
// # Package Organization
//
// The pipeline runs top to bottom:
//
//   - compiler: Bundles TypeScript/TSX templates with esbuild and runs them in goja
//   - template: The Template contract, render context and time math
//   - plan: Render jobs, presets and encoding options resolved into a RenderPlan
//   - render: Frame loop, HTML document assembly and backend interfaces
//   - render/chrome: Headless Chrome capture over the DevTools protocol
//   - render/ffmpeg: Codec negotiation and encoding through an ffmpeg process
//
// The interactive preview sits beside it:
//
//   - playback: Player state store, frame cache, render session and play clock
//   - checkpoint: Navigable positions from markers and markup attributes
//   - server: HTTP API, frame endpoint and websocket push for the preview page
//   - watcher: Debounced file watching that triggers template reloads
//
// Supporting packages:
//
//   - config: Viper-backed configuration with detailed validation
//   - errors: Classified errors, runtime frame details and fix suggestions
//   - logging: Structured slog logging with component tagging
//   - doctor: Backend availability checks
//   - history: SQLite record of past renders
//   - version: Build information
package internal
