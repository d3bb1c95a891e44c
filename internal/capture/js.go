// internal/capture/js.go
package capture

// The capture scripts run inside the observed page. They follow one
// convention: every script is an expression (IIFE) and every promise
// resolves with a plain JSON-serializable object, never rejects, so the
// CDP evaluation layer only ever sees protocol errors.

// selectionOverlayJS draws a full-viewport crosshair overlay and resolves
// with the dragged rectangle in viewport coordinates, the scroll offsets and
// the viewport dimensions. Escape resolves {aborted: true}.
const selectionOverlayJS = `(() => new Promise((resolve) => {
  const overlay = document.createElement('div');
  overlay.setAttribute('data-buglens-overlay', 'true');
  overlay.style.cssText = 'position:fixed;inset:0;background:rgba(0,0,0,0.35);cursor:crosshair;z-index:2147483647;';

  const box = document.createElement('div');
  box.style.cssText = 'position:fixed;border:2px solid #ffffff;background:rgba(27,116,228,0.2);pointer-events:none;display:none;';
  overlay.appendChild(box);

  let startX = 0, startY = 0, dragging = false;

  const cleanup = () => {
    overlay.removeEventListener('mousedown', onMouseDown);
    overlay.removeEventListener('mousemove', onMouseMove);
    overlay.removeEventListener('mouseup', onMouseUp);
    window.removeEventListener('keydown', onKeyDown);
    overlay.remove();
  };

  const settle = (result) => { cleanup(); resolve(result); };

  const onKeyDown = (event) => {
    if (event.key === 'Escape') settle({ aborted: true });
  };
  const onMouseDown = (event) => {
    dragging = true;
    startX = event.clientX;
    startY = event.clientY;
    box.style.display = 'block';
    box.style.left = startX + 'px';
    box.style.top = startY + 'px';
    box.style.width = '0px';
    box.style.height = '0px';
  };
  const onMouseMove = (event) => {
    if (!dragging) return;
    box.style.left = Math.min(startX, event.clientX) + 'px';
    box.style.top = Math.min(startY, event.clientY) + 'px';
    box.style.width = Math.abs(startX - event.clientX) + 'px';
    box.style.height = Math.abs(startY - event.clientY) + 'px';
  };
  const onMouseUp = (event) => {
    if (!dragging) return;
    dragging = false;
    settle({
      aborted: false,
      left: Math.min(startX, event.clientX),
      top: Math.min(startY, event.clientY),
      width: Math.abs(startX - event.clientX),
      height: Math.abs(startY - event.clientY),
      scrollX: window.scrollX,
      scrollY: window.scrollY,
      viewportWidth: window.innerWidth,
      viewportHeight: window.innerHeight
    });
  };

  overlay.addEventListener('mousedown', onMouseDown);
  overlay.addEventListener('mousemove', onMouseMove);
  overlay.addEventListener('mouseup', onMouseUp);
  window.addEventListener('keydown', onKeyDown);
  document.body.appendChild(overlay);
}))()`

// maskElementsJS blurs every element matching the given selectors and
// remembers the previous inline filter on the window object so unmasking can
// restore it. Takes a JSON array of selectors via %s.
const maskElementsJS = `(() => {
  const selectors = %s;
  const masked = [];
  for (const selector of selectors) {
    try {
      document.querySelectorAll(selector).forEach((element) => {
        masked.push({ element, previous: element.style.filter });
        element.style.filter = 'blur(12px)';
      });
    } catch (e) { /* invalid selector, skip */ }
  }
  window.__buglensMasked = masked;
  return masked.length;
})()`

// unmaskElementsJS restores the inline filters recorded by maskElementsJS.
const unmaskElementsJS = `(() => {
  const masked = window.__buglensMasked || [];
  for (const entry of masked) {
    entry.element.style.filter = entry.previous;
  }
  delete window.__buglensMasked;
  return masked.length;
})()`

// redactTextJS walks the document's text nodes and replaces every match of
// the given patterns with a redaction marker, recording originals for
// restoreTextJS. Takes a JSON array of regex sources via %s.
const redactTextJS = `(() => {
  const patterns = %s;
  if (!patterns.length) { window.__buglensRedacted = []; return 0; }
  const regexes = patterns.map((p) => new RegExp(p, 'g'));
  const changed = [];
  const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT);
  while (walker.nextNode()) {
    const node = walker.currentNode;
    let replaced = node.textContent || '';
    for (const regex of regexes) {
      replaced = replaced.replace(regex, '[redacted]');
    }
    if (replaced !== node.textContent) {
      changed.push({ node, previous: node.textContent });
      node.textContent = replaced;
    }
  }
  window.__buglensRedacted = changed;
  return changed.length;
})()`

// restoreTextJS undoes redactTextJS.
const restoreTextJS = `(() => {
  const changed = window.__buglensRedacted || [];
  for (const entry of changed) {
    entry.node.textContent = entry.previous;
  }
  delete window.__buglensRedacted;
  return changed.length;
})()`
